package directory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingClient struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingClient) Publish(ctx context.Context, verifyingKey [32]byte, selfURL string) error {
	c.calls.Add(1)
	if c.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func TestPublisherPublishesImmediatelyAndOnTick(t *testing.T) {
	client := &countingClient{}
	var key [32]byte
	p := NewPublisher(client, key, "https://relay.example/", 20*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 65*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-done

	if got := client.calls.Load(); got < 2 {
		t.Fatalf("expected at least 2 publish calls, got %d", got)
	}
}

func TestPublisherSurvivesClientFailure(t *testing.T) {
	client := &countingClient{fail: true}
	var key [32]byte
	p := NewPublisher(client, key, "https://relay.example/", 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-done

	if client.calls.Load() == 0 {
		t.Fatalf("expected publish to have been attempted")
	}
}
