/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fellow attendance server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, ATTENDANCE_* env, flags)
  2. Open the store (SQLite or Postgres)
  3. Build the cutoff schedule and reporter
  4. Wire payments, engine, and API handler
  5. Configure HTTP router and start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (overrides ATTENDANCE_PORT)
  -db        SQLite database path (overrides ATTENDANCE_DB_PATH)
             Use ":memory:" for in-memory database
  -env-file  Optional .env file (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush the reporter and close the database

EXAMPLES:
  # Run with file database
  ./server -db="./data/attendance.db"

  # Run against Postgres
  ATTENDANCE_DB_DRIVER=postgres ATTENDANCE_DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shamiri/attendance-engine/api"
	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/config"
	"github.com/shamiri/attendance-engine/factory"
	"github.com/shamiri/attendance-engine/payments"
	"github.com/shamiri/attendance-engine/report"
	"github.com/shamiri/attendance-engine/store/postgres"
	"github.com/shamiri/attendance-engine/store/sqlite"
)

type backend interface {
	api.Backend
	Close() error
}

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	flag.Parse()

	conf, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		conf.Port = *port
	}
	if *dbPath != "" {
		conf.DBPath = *dbPath
	}

	// Reporter
	logger := log.New(os.Stderr, "", log.LstdFlags)
	var reporter report.Reporter = report.NewStd(logger)
	if conf.RollbarToken != "" {
		host, _ := os.Hostname()
		rb := report.NewRollbar(logger, report.RollbarConfig{
			Token:       conf.RollbarToken,
			Environment: conf.Env,
			ServerHost:  host,
		})
		defer rb.Close()
		reporter = rb
	}

	// Initialize store
	store, err := openStore(context.Background(), conf)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain wiring
	schedule, err := factory.NewScheduleFactory(conf.Timezone).ParseSchedule(conf.CutoffSchedule)
	if err != nil {
		log.Fatalf("Invalid cutoff schedule: %v", err)
	}
	rate, err := payments.ParseAmount(conf.LateSessionRate, conf.Currency)
	if err != nil {
		log.Fatalf("Invalid late session rate: %v", err)
	}

	svc := payments.NewService(store, rate)
	svc.Reporter = reporter

	engine := attendance.NewEngine(store, svc, schedule)
	engine.Reporter = reporter

	reconciler := payments.NewReconciler(store)
	reconciler.Reporter = reporter

	handler := api.NewHandler(store, engine, svc, reconciler)
	handler.Reporter = reporter
	handler.AllowScenarios = !conf.IsProduction()

	tokens := auth.NewTokens(conf.JWTSecret, conf.JWTTTL)

	// Create router
	router := api.NewRouter(handler, tokens, conf.AllowedOrigins)

	// Start reconciliation scheduler
	scheduler := api.NewReconciliationScheduler(reconciler)
	scheduler.CheckInterval = conf.ReconcileInterval
	scheduler.Enabled = conf.ReconcileEnabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + conf.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s (env=%s, db=%s)", conf.Port, conf.Env, conf.DBDriver)
		log.Printf("Payout cutoffs: %v in %s", schedule.Boundaries, schedule.Location)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(ctx context.Context, conf config.Config) (backend, error) {
	switch conf.DBDriver {
	case "sqlite":
		return sqlite.New(conf.DBPath)
	case "postgres":
		return postgres.New(ctx, conf.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown db driver %q", conf.DBDriver)
}
