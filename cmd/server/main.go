package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"subfee/internal/api"
	"subfee/internal/chain"
	"subfee/internal/config"
	"subfee/internal/database"
	"subfee/internal/messaging"
	"subfee/internal/metrics"
	"subfee/internal/node"
	"subfee/internal/service"
	"subfee/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:           "subfee",
		Short:         "Subscription fee devnet node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("subfee: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the devnet node, its API and the batch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := initLogger(cfg.Env)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			return serve(cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the journal schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !cfg.Database.Enabled() {
				return errors.New("no database configured")
			}
			db, err := connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.RunMigrations(db)
		},
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting subscription fee node")
	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("chain_backend", cfg.Chain.Backend),
		zap.Bool("journal", cfg.Database.Enabled()),
		zap.Int("num_jobs", len(cfg.Worker.Jobs)))

	c, err := chain.Open(chain.Config{Backend: cfg.Chain.Backend, DataDir: cfg.Chain.DataDir}, logger)
	if err != nil {
		return fmt.Errorf("failed to open chain: %w", err)
	}

	ctx := context.Background()
	n, err := node.New(ctx, c, cfg.Genesis, logger)
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to start node: %w", err), c.Close())
	}

	m := metrics.New()
	c.AddSink(m)

	publisher := messaging.New(cfg.Messaging, logger)
	c.AddSink(messaging.NewEventSink(publisher))

	// Journal is optional
	var db *database.DB
	var runJournal service.RunJournal
	var apiJournal api.Journal
	if cfg.Database.Enabled() {
		db, err = connect(cfg)
		if err != nil {
			return multierr.Combine(err, publisher.Close(), c.Close())
		}
		if err := database.RunMigrations(db); err != nil {
			logger.Warn("Failed to run migrations", zap.Error(err))
		}
		c.AddSink(database.NewEventJournal(db))
		runJournal, apiJournal = db, db
		logger.Info("Database connected successfully")
	}

	// Initialize services
	operations := service.NewOperationService(n, runJournal, m, cfg.Worker.MaxCallsPerRun, cfg.Chain.GasLimit, logger)
	feeService := service.NewFeeService(n, logger)

	workerManager, err := worker.NewWorkerManager(cfg, operations, c, m, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker manager: %w", err)
	}
	var trigger api.Trigger
	if cfg.Worker.Enabled {
		trigger = workerManager
	}

	apiHandler := api.NewHandler(n, operations, feeService, apiJournal, trigger, logger)
	router := api.SetupRouter(apiHandler, m.Handler(), logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	workerManager.Start()

	logger.Info("Node initialized successfully",
		zap.String("status", "ready"),
		zap.String("fee_contract", n.FeeAddress.String()),
		zap.Uint64("epoch", c.Epoch()),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var errs error
	select {
	case err := <-serverErrors:
		errs = multierr.Append(errs, fmt.Errorf("http server: %w", err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down node...")

	// Shutdown workers first
	errs = multierr.Append(errs, workerManager.Shutdown(10*time.Second))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http server shutdown: %w", err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	errs = multierr.Append(errs, publisher.Close())
	if db != nil {
		errs = multierr.Append(errs, db.Close())
	}
	errs = multierr.Append(errs, c.Close())

	if errs != nil {
		logger.Error("Node stopped with errors", zap.Error(errs))
		return errs
	}
	logger.Info("Node stopped successfully")
	return nil
}

func connect(cfg *config.Config) (*database.DB, error) {
	return database.Connect(cfg.Database)
}

func initLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
