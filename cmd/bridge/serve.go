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

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridge"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/credential"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/httpapi"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/observability"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: connect sources, stream to Zerobus, serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, watch)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "bridge.yaml", "path to the bridge config file")
	cmd.Flags().BoolVar(&watch, "watch-config", true, "hot-reload the config file on change")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, watch bool) error {
	log, err := logging.NewProduction()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "failed to initialize logger", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "failed to load config", err)
	}

	creds := credential.NewMemoryStore()
	clock := clockid.SystemClock{}

	b, err := bridge.New(cfg, clock, log, creds)
	if err != nil {
		return err
	}

	shutdownTrace, err := observability.InitTracer("unified-ot-zerobus-bridge", cfg.Zerobus.IngestEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdownTrace = func(context.Context) error { return nil }
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	log.Info("bridge started", "config", configPath, "sources", len(cfg.Sources))

	if watch {
		w := config.NewWatcher(configPath, log, func(newCfg *config.Config) {
			if err := b.SetZerobusConfig(newCfg.Zerobus); err != nil {
				log.Error("hot reload: zerobus config rejected", "error", err)
			}
		})
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: httpapi.NewRouter(b, log, nil)}
	go func() {
		log.Info("http api listening", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "bridge running; press Ctrl+C to stop\n")
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Error("bridge shutdown error", "error", err)
	}
	if err := shutdownTrace(shutdownCtx); err != nil {
		log.Warn("tracer shutdown error", "error", err)
	}
	log.Info("bridge stopped")
	return nil
}
