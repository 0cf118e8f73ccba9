package bridge

import (
	"context"

	"github.com/deltamesh/onionmesh/internal/topiclog"
)

// LocalClient delivers directly into an in-process topiclog.Manager,
// skipping the HTTP hop entirely. Used when a relay and the sync service
// share a process (single-binary test/dev deployments) and by tests that
// exercise the relay without a live sync service.
type LocalClient struct {
	manager *topiclog.Manager
}

// NewLocalClient wraps manager as a bridge.Client.
func NewLocalClient(manager *topiclog.Manager) *LocalClient {
	return &LocalClient{manager: manager}
}

// Deliver implements Client.
func (c *LocalClient) Deliver(ctx context.Context, topicID [32]byte, op []byte) error {
	c.manager.Append(topiclog.TopicID(topicID), op)
	return nil
}
