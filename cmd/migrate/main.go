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
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Parse()

	_ = godotenv.Load(*envFile)
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "usage: migrate -dsn <connection string> (or set DATABASE_URL)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}
	fmt.Println("Connected to database")

	migrations, err := postgres.Migrations()
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}
	for _, m := range migrations {
		fmt.Printf("Pending %s\n", m.Name)
	}

	if err := postgres.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Printf("Applied %d migration(s)\n", len(migrations))
}
