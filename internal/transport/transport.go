package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kind selects the wire transport a relay uses to reach the next hop.
// Both kinds speak the same https:// URL space from the onion layer's
// point of view (spec.md §4.5's scheme check applies identically); Kind
// only changes the underlying connection.
type Kind string

const (
	// KindTLS is plain HTTPS over TCP+TLS (net/http default transport).
	KindTLS Kind = "tls"

	// KindHTTP3 is HTTP/3 over QUIC, for relays that want 0-RTT-capable
	// hop-to-hop delivery.
	KindHTTP3 Kind = "http3"
)

// Client posts a raw onion envelope to a hop's URL and returns the upstream
// status code. It never inspects or buffers more of the body than needed to
// determine success; errors always distinguish "could not reach" (err != nil)
// from "reached, non-2xx" (statusCode set, err nil) so callers can follow
// spec.md §4.5's 200-on-2xx / 502-otherwise rule without re-deriving it.
type Client interface {
	Post(ctx context.Context, url string, body []byte, timeout time.Duration) (statusCode int, err error)
	Close() error
}

// NewClient builds a Client of the requested kind. tlsConfig may be nil for
// KindTLS (the default net/http RootCAs apply); KindHTTP3 requires a
// non-nil tlsConfig (at minimum to set ALPN) per quic-go/http3's contract.
func NewClient(kind Kind, tlsConfig *tls.Config) (Client, error) {
	switch kind {
	case "", KindTLS:
		return newHTTPSClient(tlsConfig), nil
	case KindHTTP3:
		return newHTTP3Client(tlsConfig)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

type httpsClient struct {
	client *http.Client
}

func newHTTPSClient(tlsConfig *tls.Config) *httpsClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &httpsClient{client: &http.Client{Transport: transport}}
}

func (c *httpsClient) Post(ctx context.Context, url string, body []byte, timeout time.Duration) (int, error) {
	return doPost(ctx, c.client, url, body, timeout)
}

func (c *httpsClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func doPost(ctx context.Context, client *http.Client, url string, body []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
