package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

type http3Client struct {
	client    *http.Client
	roundTrip *http3.RoundTripper
}

func newHTTP3Client(tlsConfig *tls.Config) (*http3Client, error) {
	if tlsConfig == nil {
		return nil, fmt.Errorf("http3 transport requires a TLS config")
	}
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPNProtocol}
	}

	rt := &http3.RoundTripper{TLSClientConfig: cfg}
	return &http3Client{
		client:    &http.Client{Transport: rt},
		roundTrip: rt,
	}, nil
}

func (c *http3Client) Post(ctx context.Context, url string, body []byte, timeout time.Duration) (int, error) {
	return doPost(ctx, c.client, url, body, timeout)
}

func (c *http3Client) Close() error {
	return c.roundTrip.Close()
}

// Server serves POST /hop and GET /pubkey over HTTP/3-over-QUIC. It wraps
// the same http.Handler a KindTLS deployment would hand to net/http, so
// relay.Server's routing logic (§4.5) is identical regardless of the wire
// transport in use. cmd/onion-relay does not start it: transport.kind only
// selects the outbound Client, and the relay always listens via net/http.
type Server struct {
	inner *http3.Server
}

// NewServer builds an HTTP/3 listener for addr using tlsConfig, dispatching
// to handler exactly as an http.Server would.
func NewServer(addr string, tlsConfig *tls.Config, handler http.Handler) *Server {
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPNProtocol}
	}
	return &Server{inner: &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: cfg,
	}}
}

// ListenAndServe blocks serving HTTP/3 requests until the server is closed
// or a fatal error occurs.
func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

// Close shuts the HTTP/3 listener down immediately, dropping in-flight
// streams (mirrors net/http.Server.Close, not Shutdown).
func (s *Server) Close() error {
	return s.inner.Close()
}
