// Package directory implements the relay's periodic republish of its
// verifying key and hop URL to an external directory (spec §4.5, §6). The
// directory itself ("given a relay's verifying key, the sender can learn an
// https URL") is an external collaborator out of this core's scope; this
// package ships the Client interface, a ticker-driven Publisher against it,
// and an HTTP reference implementation (used by onion-relay serve).
package directory

import (
	"context"
	"log/slog"
	"time"

	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/recovery"
)

// Client publishes a relay's identity to an external directory.
type Client interface {
	Publish(ctx context.Context, verifyingKey [32]byte, selfURL string) error
}

// Publisher republishes a relay's identity on a fixed interval, grounded on
// the teacher's ticker-driven background loops
// (internal/peer/manager.go's keepaliveLoop, internal/flood/flood.go's
// cleanupLoop): a ticker guarded by recovery.RecoverWithLog, stopped on
// context cancellation.
type Publisher struct {
	client       Client
	verifyingKey [32]byte
	selfURL      string
	interval     time.Duration
	logger       *slog.Logger
}

// NewPublisher creates a Publisher that calls client.Publish every interval
// until its Run context is cancelled.
func NewPublisher(client Client, verifyingKey [32]byte, selfURL string, interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Publisher{
		client:       client,
		verifyingKey: verifyingKey,
		selfURL:      selfURL,
		interval:     interval,
		logger:       logger,
	}
}

// Run publishes once immediately, then on every tick, until ctx is
// cancelled. Intended to be launched in its own goroutine by the caller.
func (p *Publisher) Run(ctx context.Context) {
	defer recovery.RecoverWithLog(p.logger, "directory.Publisher.Run")

	p.publishOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	if err := p.client.Publish(ctx, p.verifyingKey, p.selfURL); err != nil {
		p.logger.Warn("directory publish failed",
			logging.KeyError, err,
			logging.KeyComponent, "directory")
		return
	}
	p.logger.Debug("directory publish ok", logging.KeyComponent, "directory")
}
