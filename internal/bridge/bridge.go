// Package bridge implements the terminal delivery bridge (spec §4.7): the
// adapter from a relay's peeled Deliver payload to the correct topic log at
// the sync service.
package bridge

import "context"

// Client hands a peeled (topic_id, op) pair to the sync service. The relay
// calls this exactly once per Deliver payload it classifies.
type Client interface {
	Deliver(ctx context.Context, topicID [32]byte, op []byte) error
}
