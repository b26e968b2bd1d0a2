// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/pulse/internal/audit"
	"github.com/opentrusty/pulse/internal/config"
	"github.com/opentrusty/pulse/internal/identity"
	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/observability/metrics"
	"github.com/opentrusty/pulse/internal/observability/tracing"
	"github.com/opentrusty/pulse/internal/organization"
	"github.com/opentrusty/pulse/internal/rls"
	"github.com/opentrusty/pulse/internal/store/postgres"
	"github.com/opentrusty/pulse/internal/survey"
	transportHTTP "github.com/opentrusty/pulse/internal/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting pulse")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer, _ = tracing.New(ctx, tracing.Config{})
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}
	defer meter.Shutdown(ctx)
	instruments, err := rls.NewInstruments(meter)
	if err != nil {
		slog.Error("failed to create request scope instruments", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := openDB(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Identity binding
	binder, err := postgres.NewBinder(cfg.RLS.ClaimSetting)
	if err != nil {
		slog.Error("invalid claim setting", logger.Error(err))
		os.Exit(1)
	}
	coordinator := rls.NewCoordinator(db, binder,
		rls.WithFinalizeTimeout(cfg.RLS.FinalizeTimeout),
		rls.WithTracer(tracer.GetTracer()),
		rls.WithInstruments(instruments),
	)

	// Initialize repositories
	organizationRepo := postgres.NewOrganizationRepository(db)
	memberRepo := postgres.NewMemberRepository(db)
	surveyRepo := postgres.NewSurveyRepository(db)
	securityContextRepo := postgres.NewSecurityContextRepository(db, cfg.RLS.ClaimSetting)

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	organizationService := organization.NewService(organizationRepo, memberRepo, auditLogger)
	surveyService := survey.NewService(surveyRepo, auditLogger)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		organizationService,
		surveyService,
		securityContextRepo,
	)

	routerCfg := transportHTTP.RouterConfig{
		Runner:         coordinator,
		Peeker:         identity.NewPeeker(cfg.RLS.SubjectClaim),
		Verifier:       identity.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.RLS.SubjectClaim),
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			rls.NewStatsCollector(coordinator),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		routerCfg.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	// Create router
	router := transportHTTP.NewRouter(handler, routerCfg)

	// Create HTTP server
	addr := cfg.ListenAddr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	stats := coordinator.Stats()
	slog.Info("server stopped",
		slog.Int64("scopes_opened", stats.Opened),
		slog.Int64("scopes_released", stats.Released),
		slog.Int64("scopes_active", stats.Active),
	)
}

func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying schema migrations...")
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
