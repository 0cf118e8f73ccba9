// Package relay implements the relay HTTP endpoint (spec §4.5): the single
// component that wires layer peeling to forwarding or terminal delivery.
// Grounded on the teacher's HTTP server shape (internal/health/server.go's
// http.NewServeMux + HandleFunc registration, writeJSON/requireGET/requirePOST
// helpers) and its outbound-call handling (internal/forward/handler.go).
package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deltamesh/onionmesh/internal/bridge"
	"github.com/deltamesh/onionmesh/internal/layercrypto"
	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/metrics"
	"github.com/deltamesh/onionmesh/internal/onioncrypto"
	"github.com/deltamesh/onionmesh/internal/onionwire"
	"github.com/deltamesh/onionmesh/internal/ratelimit"
	"github.com/deltamesh/onionmesh/internal/recovery"
	"github.com/deltamesh/onionmesh/internal/transport"
)

// maxEnvelopeBytes bounds request body reads; the protocol itself does not
// bound envelope length (spec §3), but an HTTP endpoint must, to avoid
// unbounded memory use from a malicious sender.
const maxEnvelopeBytes = 4 << 20 // 4 MiB

// Server is the relay's HTTP handler: POST /hop, GET /pubkey, GET /healthz,
// GET /metrics.
type Server struct {
	seed         [onioncrypto.KeySize]byte
	verifyingKey [onioncrypto.KeySize]byte

	client  transport.Client
	bridge  bridge.Client
	limiter *ratelimit.Limiter
	metrics *metrics.Relay
	logger  *slog.Logger

	forwardTimeout time.Duration

	mux *http.ServeMux
}

// NewServer builds a relay server around the given long-term seed. limiter
// and m may be nil to disable rate limiting / metrics respectively.
func NewServer(seed [onioncrypto.KeySize]byte, client transport.Client, bridgeClient bridge.Client, limiter *ratelimit.Limiter, m *metrics.Relay, logger *slog.Logger) (*Server, error) {
	priv := ed25519.NewKeyFromSeed(seed[:])
	var verifyingKey [onioncrypto.KeySize]byte
	copy(verifyingKey[:], priv.Public().(ed25519.PublicKey))

	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		seed:           seed,
		verifyingKey:   verifyingKey,
		client:         client,
		bridge:         bridgeClient,
		limiter:        limiter,
		metrics:        m,
		logger:         logger,
		forwardTimeout: 30 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pubkey", s.handlePubkey)
	mux.HandleFunc("/hop", s.handleHop)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	s.mux = mux

	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// VerifyingKey returns the relay's long-term public identity.
func (s *Server) VerifyingKey() [onioncrypto.KeySize]byte {
	return s.verifyingKey
}

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, hex.EncodeToString(s.verifyingKey[:]))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
}

// handleHop implements the POST /hop state machine of spec §4.5.
func (s *Server) handleHop(w http.ResponseWriter, r *http.Request) {
	defer recovery.RecoverWithLog(s.logger, "relay.handleHop")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	remoteAddr := remoteHost(r)
	if s.limiter != nil && !s.limiter.Allow(remoteAddr) {
		if s.metrics != nil {
			s.metrics.RateLimitDropped.Inc()
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxEnvelopeBytes {
		s.respondResult(w, http.StatusBadRequest, "bad_request")
		return
	}

	decryptStart := time.Now()
	payload, err := layercrypto.DecryptLayer(body, s.seed)
	if s.metrics != nil {
		s.metrics.DecryptLatency.Observe(time.Since(decryptStart).Seconds())
	}
	if err != nil {
		s.logger.Debug("hop decrypt failed",
			logging.KeyRemoteAddr, remoteAddr,
			logging.KeyComponent, "relay")
		s.respondResult(w, http.StatusBadRequest, "bad_request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.forwardTimeout)
	defer cancel()

	forwardStart := time.Now()
	var dispatchErr error
	switch {
	case payload.Forward != nil:
		dispatchErr = s.dispatchForward(ctx, payload.Forward)
	case payload.Deliver != nil:
		dispatchErr = s.dispatchDeliver(ctx, payload.Deliver)
	default:
		dispatchErr = errors.New("decrypted payload carries neither Forward nor Deliver")
	}
	if s.metrics != nil {
		s.metrics.ForwardLatency.Observe(time.Since(forwardStart).Seconds())
	}

	if dispatchErr != nil {
		s.logger.Debug("hop dispatch failed",
			logging.KeyRemoteAddr, remoteAddr,
			logging.KeyError, dispatchErr,
			logging.KeyComponent, "relay")
		if errors.Is(dispatchErr, errInvalidForwardURL) {
			s.respondResult(w, http.StatusBadRequest, "bad_request")
			return
		}
		s.respondResult(w, http.StatusBadGateway, "bad_gateway")
		return
	}

	s.respondResult(w, http.StatusOK, "ok")
}

func (s *Server) respondResult(w http.ResponseWriter, status int, result string) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(result).Inc()
	}
	w.WriteHeader(status)
}

// errInvalidForwardURL marks a Forward payload whose next_hop_url fails
// parsing or scheme validation (spec §8 S6): this is a 400, not a 502,
// because it is detected before any outbound call is attempted.
var errInvalidForwardURL = errors.New("invalid next hop URL")

func (s *Server) dispatchForward(ctx context.Context, fwd *onionwire.ForwardPayload) error {
	nextURL, err := url.Parse(fwd.NextHopURL)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidForwardURL, err)
	}
	if nextURL.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https, got %q", errInvalidForwardURL, nextURL.Scheme)
	}

	status, err := s.client.Post(ctx, fwd.NextHopURL, fwd.InnerPacket, s.forwardTimeout)
	if err != nil {
		return fmt.Errorf("forward to next hop: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("next hop responded with status %d", status)
	}
	return nil
}

func (s *Server) dispatchDeliver(ctx context.Context, dlv *onionwire.DeliverPayload) error {
	if s.bridge == nil {
		return errors.New("relay has no terminal delivery bridge configured")
	}
	return s.bridge.Deliver(ctx, dlv.TopicID, dlv.Op)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
