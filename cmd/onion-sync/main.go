// Package main provides the CLI entry point for the terminal sync service.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deltamesh/onionmesh/internal/config"
	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/metrics"
	"github.com/deltamesh/onionmesh/internal/syncserver"
	"github.com/deltamesh/onionmesh/internal/topiclog"
	"github.com/deltamesh/onionmesh/internal/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "onion-sync",
		Short:   "Terminal delivery and topic sync service",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service's HTTP and WebSocket endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSyncConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sync.yaml", "Path to sync configuration file")
	return cmd
}

func runServe(cfg *config.SyncConfig) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	manager := topiclog.NewManager(cfg.Sync.BufferSize)

	var syncMetrics *metrics.Sync
	if cfg.Metrics.Enabled {
		// /metrics is served from the default registry (internal/syncserver's
		// handler uses promhttp.Handler()), so register there too.
		syncMetrics = metrics.NewSync(prometheus.DefaultRegisterer)
		manager.SetMetricsHooks(
			func() { syncMetrics.EvictionsTotal.Inc() },
			func() { syncMetrics.SubscriberDropsTotal.Inc() },
		)
	}

	server := syncserver.NewServer(manager, syncMetrics, logger)

	certPEM, err := cfg.TLS.GetCertPEM()
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	keyPEM, err := cfg.TLS.GetKeyPEM()
	if err != nil {
		return fmt.Errorf("load TLS key: %w", err)
	}
	var tlsConfig *tls.Config
	if len(certPEM) > 0 && len(keyPEM) > 0 {
		tlsConfig, err = transport.TLSConfigFromBytes(certPEM, keyPEM)
		if err != nil {
			return fmt.Errorf("build TLS config: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:      cfg.Sync.ListenAddr,
		Handler:   server.Handler(),
		TLSConfig: tlsConfig,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("sync service listening",
		"addr", cfg.Sync.ListenAddr,
		"buffer_size", cfg.Sync.BufferSize,
		logging.KeyComponent, "onion-sync")

	if len(certPEM) == 0 {
		return httpServer.ListenAndServe()
	}
	return httpServer.ListenAndServeTLS("", "")
}
