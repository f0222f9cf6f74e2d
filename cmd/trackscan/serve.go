package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/trackscan/internal/api"
	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/config"
	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
	"github.com/banshee-data/trackscan/internal/monitoring"
	"github.com/banshee-data/trackscan/internal/speed"
	"github.com/banshee-data/trackscan/internal/sweep"
	"github.com/banshee-data/trackscan/internal/tamping"
	"github.com/banshee-data/trackscan/internal/version"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event streams and debug endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, cmd.Flags(), envLookup)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.ServiceConfig) error {
	monitoring.Logf("%s starting", version.String())

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	sc, err := speed.NewController(cfg.SpeedLimits(), cfg.GetAnalysisSpeedKmh(), cfg.GetTampingSpeedKmh())
	if err != nil {
		return fmt.Errorf("failed to create speed controller: %w", err)
	}

	classifier, err := tamping.NewHTTPClassifier(cfg.GetDecisionServiceURL(), httputil.NewTimeoutClient(cfg.GetDecisionTimeout()))
	if err != nil {
		return fmt.Errorf("failed to create decision client: %w", err)
	}

	hub := broadcast.NewHub()

	orchestrator := tamping.NewOrchestrator(database, classifier, hub, tamping.WithSpeedAdvisor(sc))
	runner := sweep.NewRunner(orchestrator, sc, nil)

	apiServer := api.NewServer(database, orchestrator, sc, hub, api.WithSweepRunner(runner))
	mux, err := apiServer.ServeMux()
	if err != nil {
		return fmt.Errorf("failed to build routes: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("listening on %s (decision service %s)", server.Addr, cfg.GetDecisionServiceURL())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.GetSweepEnabled() {
		req := sweep.Request{Start: cfg.GetSweepStart(), Step: cfg.GetSweepStep(), Limit: cfg.GetSweepLimit()}
		if err := runner.Start(ctx, req); err != nil {
			monitoring.Logf("boot sweep not started: %v", err)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		runErr = fmt.Errorf("failed to start server: %w", runErr)
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		server.Close()
	}

	runner.Stop()
	runner.Wait()
	hub.Close()
	wg.Wait()

	monitoring.Logf("graceful shutdown complete")
	return runErr
}
