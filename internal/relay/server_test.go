package relay

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deltamesh/onionmesh/internal/bridge"
	"github.com/deltamesh/onionmesh/internal/onioncrypto"
	"github.com/deltamesh/onionmesh/internal/packet"
	"github.com/deltamesh/onionmesh/internal/topiclog"
)

func hopFromSeed(b byte) (seed, verifying [onioncrypto.KeySize]byte) {
	for i := range seed {
		seed[i] = b
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	copy(verifying[:], priv.Public().(ed25519.PublicKey))
	return
}

// fakeTransport lets tests control the simulated next-hop response without
// a real network call.
type fakeTransport struct {
	status int
	err    error
	calls  int
}

func (f *fakeTransport) Post(ctx context.Context, url string, body []byte, timeout time.Duration) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.status, nil
}

func (f *fakeTransport) Close() error { return nil }

func newTestServer(t *testing.T, seed [onioncrypto.KeySize]byte, client *fakeTransport, deliverTo *topiclog.Manager) *Server {
	t.Helper()
	var br bridge.Client
	if deliverTo != nil {
		br = bridge.NewLocalClient(deliverTo)
	}
	s, err := NewServer(seed, client, br, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestPubkeyEndpoint(t *testing.T) {
	seed, verifying := hopFromSeed(0x01)
	s := newTestServer(t, seed, &fakeTransport{status: 200}, nil)

	req := httptest.NewRequest(http.MethodGet, "/pubkey", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	want := hexEncode(verifying)
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func hexEncode(b [onioncrypto.KeySize]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

func TestHopForwardSuccessReturns200(t *testing.T) {
	seed1, pub1 := hopFromSeed(0x01)
	_, pub2 := hopFromSeed(0x02)

	route := packet.Route{
		{VerifyingKey: pub1, URL: "https://h1.example/hop"},
		{VerifyingKey: pub2, URL: "https://h2.example/hop"},
	}
	var topic [32]byte
	env, err := packet.Build(route, topic, []byte("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	client := &fakeTransport{status: 200}
	s := newTestServer(t, seed1, client, nil)

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader(env.Bytes()))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one forward call, got %d", client.calls)
	}
}

func TestHopForwardUpstreamFailureReturns502(t *testing.T) {
	seed1, pub1 := hopFromSeed(0x01)
	_, pub2 := hopFromSeed(0x02)

	route := packet.Route{
		{VerifyingKey: pub1, URL: "https://h1.example/hop"},
		{VerifyingKey: pub2, URL: "https://h2.example/hop"},
	}
	var topic [32]byte
	env, err := packet.Build(route, topic, []byte("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	client := &fakeTransport{status: 503}
	s := newTestServer(t, seed1, client, nil)

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader(env.Bytes()))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHopMalformedBodyReturns400(t *testing.T) {
	seed, _ := hopFromSeed(0x01)
	s := newTestServer(t, seed, &fakeTransport{status: 200}, nil)

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader([]byte("short")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHopWrongKeyReturns400(t *testing.T) {
	seed1, pub1 := hopFromSeed(0x01)
	otherSeed, _ := hopFromSeed(0x02)

	route := packet.Route{{VerifyingKey: pub1, URL: "https://h1.example/hop"}}
	var topic [32]byte
	env, err := packet.Build(route, topic, []byte("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	s := newTestServer(t, otherSeed, &fakeTransport{status: 200}, nil)
	_ = seed1

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader(env.Bytes()))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestDeliverReachesTopicLog is scenario-adjacent to S2: a single-hop
// Deliver packet reaches the topic log via the in-process bridge.
func TestDeliverReachesTopicLog(t *testing.T) {
	seed, pub := hopFromSeed(0x09)
	route := packet.Route{{VerifyingKey: pub, URL: "https://only.example/hop"}}

	var topic [32]byte
	for i := range topic {
		topic[i] = 0xaa
	}
	env, err := packet.Build(route, topic, []byte("hello"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	manager := topiclog.NewManager(10)
	s := newTestServer(t, seed, &fakeTransport{status: 200}, manager)

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader(env.Bytes()))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if manager.Get(topiclog.TopicID(topic)).Head() != 1 {
		t.Fatalf("expected one entry appended to the topic log")
	}
}

// TestForwardHTTPSchemeRejected is scenario S6: an inner Forward URL with
// scheme http:// must cause a 400 without performing the outgoing POST.
func TestForwardHTTPSchemeRejected(t *testing.T) {
	seed1, pub1 := hopFromSeed(0x01)
	_, pub2 := hopFromSeed(0x02)

	route := packet.Route{
		{VerifyingKey: pub1, URL: "https://h1.example/hop"},
		{VerifyingKey: pub2, URL: "http://h2.example/hop"}, // non-https
	}
	var topic [32]byte
	env, err := packet.Build(route, topic, []byte("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	client := &fakeTransport{status: 200}
	s := newTestServer(t, seed1, client, nil)

	req := httptest.NewRequest(http.MethodPost, "/hop", bytes.NewReader(env.Bytes()))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (spec §8 S6: scheme rejection before any outbound call)", rec.Code)
	}
	if client.calls != 0 {
		t.Fatalf("expected no outgoing POST for a non-https next hop, got %d calls", client.calls)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	seed, _ := hopFromSeed(0x01)
	s := newTestServer(t, seed, &fakeTransport{status: 200}, nil)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
