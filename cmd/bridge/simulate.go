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
)

// newSimulateCmd runs the bridge against the in-process OPC-UA/MQTT/
// Modbus simulators instead of real field devices (SPEC_FULL.md §4.11),
// useful for demos and local development without any OT hardware.
func newSimulateCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the bridge against in-process OPC-UA/MQTT/Modbus simulators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "status API listen address")
	return cmd
}

func runSimulate(cmd *cobra.Command, listenAddr string) error {
	log, err := logging.NewDevelopment()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "failed to initialize logger", err)
	}

	cfg := config.Default()
	cfg.HTTP.ListenAddr = listenAddr
	cfg.Zerobus = config.ZerobusConfig{
		WorkspaceHost:  "simulated.cloud.databricks.com",
		IngestEndpoint: "127.0.0.1:0",
		ClientID:       "simulate",
		ClientSecret:   "simulate",
		Catalog:        "demo",
		Schema:         "ot",
		Table:          "telemetry_simulated",
	}
	cfg.Sources = []config.SourceConfig{
		{Name: "opcua-sim", Protocol: "opcua", Endpoint: "opc.tcp://localhost:4840", PollInterval: time.Second, BackoffMax: 10 * time.Second},
		{Name: "mqtt-sim", Protocol: "mqtt", Endpoint: "tcp://localhost:1883", PollInterval: time.Second, BackoffMax: 10 * time.Second},
		{Name: "modbus-sim", Protocol: "modbus", Endpoint: "modbus://localhost:502", PollInterval: time.Second, BackoffMax: 10 * time.Second},
	}

	b, err := bridge.New(cfg, clockid.SystemClock{}, log, credential.NewMemoryStore())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: listenAddr, Handler: httpapi.NewRouter(b, log, nil)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "simulating opcua/mqtt/modbus sources; status API on %s; press Ctrl+C to stop\n", listenAddr)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return b.Shutdown(shutdownCtx)
}
