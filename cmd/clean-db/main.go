package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/opentrusty/pulse/internal/store/postgres"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	dsn := flag.String("dsn", "", "PostgreSQL connection string (default $DATABASE_URL)")
	confirm := flag.Bool("yes", false, "confirm that all data should be removed")
	flag.Parse()

	_ = godotenv.Load(*envFile)
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" || !*confirm {
		fmt.Fprintln(os.Stderr, "usage: clean-db -yes -dsn <connection string> (or set DATABASE_URL)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("Cleaning database...")
	if err := postgres.ResetData(ctx, db); err != nil {
		log.Fatalf("Reset failed: %v", err)
	}
	for _, table := range postgres.DataTables {
		fmt.Printf("✓ Cleared %s\n", table)
	}
}
