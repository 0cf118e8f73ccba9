// Package main provides the CLI entry point for the onion relay service.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deltamesh/onionmesh/internal/bridge"
	"github.com/deltamesh/onionmesh/internal/config"
	"github.com/deltamesh/onionmesh/internal/directory"
	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/metrics"
	"github.com/deltamesh/onionmesh/internal/onioncrypto"
	"github.com/deltamesh/onionmesh/internal/ratelimit"
	"github.com/deltamesh/onionmesh/internal/recovery"
	"github.com/deltamesh/onionmesh/internal/relay"
	"github.com/deltamesh/onionmesh/internal/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "onion-relay",
		Short:   "Sender-anonymous onion routing relay",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(pubkeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay's HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelayConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to relay configuration file")
	return cmd
}

func runServe(cfg *config.RelayConfig) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	seed, err := resolveSeed(cfg.Relay.Seed, cfg.Relay.SeedFile)
	if err != nil {
		return fmt.Errorf("resolve relay seed: %w", err)
	}

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

	outboundClient, err := transport.NewClient(transport.Kind(cfg.Transport.Kind), tlsConfig)
	if err != nil {
		return fmt.Errorf("build outbound transport: %w", err)
	}
	defer outboundClient.Close()

	var bridgeClient bridge.Client
	// The terminal delivery bridge (C7) points at a sync service's own
	// POST /deliver endpoint — distinct from Directory.PublishURL, which
	// is where the relay publishes its own identity (spec §6). Left
	// unconfigured, a standalone relay still serves POST /hop and reports
	// 502 for any Deliver payload, matching spec.md §4.5's bridge-failure
	// contract.
	if cfg.Bridge.DeliverURL != "" {
		bridgeClient = bridge.NewHTTPClient(cfg.Bridge.DeliverURL, cfg.Bridge.Timeout)
	}

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	var relayMetrics *metrics.Relay
	if cfg.Metrics.Enabled {
		// /metrics is served from the default registry (internal/relay's
		// handler uses promhttp.Handler()), so register there too.
		relayMetrics = metrics.NewRelay(prometheus.DefaultRegisterer)
	}

	server, err := relay.NewServer(seed, outboundClient, bridgeClient, limiter, relayMetrics, logger)
	if err != nil {
		return fmt.Errorf("build relay server: %w", err)
	}

	logger.Info("relay identity",
		"verifying_key", hex.EncodeToString(publicKeyOf(server)),
		logging.KeyComponent, "onion-relay")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Directory.PublishURL != "" {
		dirClient := directory.NewHTTPClient(cfg.Directory.PublishURL, 10*time.Second)
		publisher := directory.NewPublisher(dirClient, server.VerifyingKey(), cfg.Relay.SelfURL, cfg.Directory.PublishInterval, logger)
		go publisher.Run(ctx)
	}

	go runRateLimiterPruneLoop(ctx, limiter, logger)

	httpServer := &http.Server{
		Addr:      cfg.Relay.ListenAddr,
		Handler:   server.Handler(),
		TLSConfig: tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening",
		"addr", cfg.Relay.ListenAddr,
		"transport", cfg.Transport.Kind,
		logging.KeyComponent, "onion-relay")

	if len(certPEM) == 0 {
		return httpServer.ListenAndServe()
	}
	return httpServer.ListenAndServeTLS("", "")
}

// pruneInterval is both the tick period and the idle window passed to
// Limiter.Prune: a visitor untouched for a full interval is pruned.
const pruneInterval = 10 * time.Minute

// runRateLimiterPruneLoop periodically bounds the rate limiter's visitor
// map. Intended to be launched in its own goroutine alongside serve.
func runRateLimiterPruneLoop(ctx context.Context, limiter *ratelimit.Limiter, logger *slog.Logger) {
	defer recovery.RecoverWithLog(logger, "onion-relay.runRateLimiterPruneLoop")

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(time.Now().Add(-pruneInterval))
		}
	}
}

func initCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new relay identity seed and a self-signed dev certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed [onioncrypto.KeySize]byte
			if _, err := rand.Read(seed[:]); err != nil {
				return fmt.Errorf("generate seed: %w", err)
			}

			priv := ed25519.NewKeyFromSeed(seed[:])
			verifying := priv.Public().(ed25519.PublicKey)

			fmt.Printf("seed: %s\n", hex.EncodeToString(seed[:]))
			fmt.Printf("verifying_key: %s\n", hex.EncodeToString(verifying))

			certPEM, keyPEM, err := transport.GenerateSelfSignedCert("localhost", 365*24*time.Hour)
			if err != nil {
				return fmt.Errorf("generate dev certificate: %w", err)
			}
			if err := os.WriteFile(outFile+".crt", certPEM, 0o644); err != nil {
				return fmt.Errorf("write cert: %w", err)
			}
			if err := os.WriteFile(outFile+".key", keyPEM, 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Printf("wrote %s.crt and %s.key (%s)\n", outFile, outFile, humanize.Bytes(uint64(len(certPEM)+len(keyPEM))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "relay-dev", "Output file prefix for the generated certificate/key")
	return cmd
}

func pubkeyCmd() *cobra.Command {
	var seedHex, seedFile string

	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the verifying key derived from a relay seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := resolveSeed(seedHex, seedFile)
			if err != nil {
				return err
			}
			priv := ed25519.NewKeyFromSeed(seed[:])
			fmt.Println(hex.EncodeToString(priv.Public().(ed25519.PublicKey)))
			return nil
		},
	}

	cmd.Flags().StringVar(&seedHex, "seed", "", "Hex-encoded 32-byte relay seed")
	cmd.Flags().StringVar(&seedFile, "seed-file", "", "Path to a file containing the hex-encoded seed")
	return cmd
}

func resolveSeed(seedHex, seedFile string) ([onioncrypto.KeySize]byte, error) {
	var seed [onioncrypto.KeySize]byte

	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return seed, fmt.Errorf("read seed file: %w", err)
		}
		seedHex = string(data)
	}

	seedHex = strings.TrimSpace(seedHex)
	if seedHex == "" {
		return seed, fmt.Errorf("no seed provided (use --seed or --seed-file)")
	}

	decoded, err := hex.DecodeString(seedHex)
	if err != nil {
		return seed, fmt.Errorf("%w: seed is not valid hex", onioncrypto.ErrInvalidKey)
	}
	if len(decoded) != onioncrypto.KeySize {
		return seed, fmt.Errorf("%w: seed must be %d bytes, got %d", onioncrypto.ErrInvalidKey, onioncrypto.KeySize, len(decoded))
	}
	copy(seed[:], decoded)
	return seed, nil
}

func publicKeyOf(s *relay.Server) []byte {
	k := s.VerifyingKey()
	return k[:]
}

