package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/parametric-cover/api"
	"github.com/warp/parametric-cover/chain"
	"github.com/warp/parametric-cover/config"
	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/funds"
	"github.com/warp/parametric-cover/observability"
	"github.com/warp/parametric-cover/store/sqlite"
)

type serveOptions struct {
	configPath string
	port       int
	dbPath     string
	logLevel   string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.port
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = opts.dbPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().IntVar(&opts.port, "port", 8080, "HTTP server port")
	cmd.Flags().StringVar(&opts.dbPath, "db", "cover.db", `SQLite database path (":memory:" for in-memory)`)
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "debug|info|warn|error")

	return cmd
}

// serve runs the server until SIGINT/SIGTERM.
//
// STARTUP SEQUENCE:
//  1. Open SQLite store (auto-migrates)
//  2. Restore the block height checkpoint
//  3. Wire ledger, metrics, engine, handler, router
//  4. Start block producer and HTTP server
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections, wait for active requests (30s)
//  2. Stop the block producer
//  3. Checkpoint the final height, then close the database
func serve(ctx context.Context, cfg config.Config) error {
	log := observability.NewLogger("coverd", cfg.Log.Level)
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	height, err := store.LoadHeight(ctx)
	if err != nil {
		return err
	}
	if start := cover.BlockHeight(cfg.Chain.StartHeight); start > height {
		height = start
	}
	clock := chain.NewManual(height)

	ledger := funds.NewLedger(store)
	if err := fundReserve(ctx, ledger, cfg.Reserve); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	engine := cover.NewEngine(store, ledger, cover.EngineConfig{
		Reserve:  cfg.Reserve.Account,
		Limits:   cfg.Limits,
		Logger:   &log,
		Recorder: metrics,
	})

	handler := api.NewHandler(engine, ledger, clock, store, log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics.Registry,
	})

	var producer *chain.Producer
	if cfg.Chain.Produce {
		producer = chain.NewProducer(clock, store, log)
		producer.Interval = cfg.Chain.BlockInterval
		producer.Start()
		defer producer.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("db", cfg.Database.Path).
			Uint64("height", uint64(clock.Height())).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if producer != nil {
		producer.Stop()
	}
	if err := store.SaveHeight(shutdownCtx, clock.Height()); err != nil {
		log.Error().Err(err).Msg("final checkpoint failed")
	}

	log.Info().Msg("server stopped")
	return nil
}

// fundReserve tops an empty reserve up to the configured initial deposit.
func fundReserve(ctx context.Context, ledger *funds.Ledger, rc config.ReserveConfig) error {
	if rc.InitialDeposit == 0 {
		return nil
	}
	history, err := ledger.History(ctx, rc.Account)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return nil
	}
	if err := ledger.Deposit(ctx, rc.Account, rc.InitialDeposit); err != nil {
		return fmt.Errorf("fund reserve: %w", err)
	}
	return nil
}
