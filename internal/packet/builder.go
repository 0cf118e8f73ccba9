package packet

import (
	"fmt"

	"github.com/deltamesh/onionmesh/internal/layercrypto"
	"github.com/deltamesh/onionmesh/internal/onioncrypto"
	"github.com/deltamesh/onionmesh/internal/onionwire"
)

// Build constructs the outermost onion envelope for route, addressed to
// deliver op under topicID at the terminal hop (spec §4.4 build_packet).
//
// The innermost plaintext is Deliver{topicID, op}, encrypted to the last
// hop's verifying key. Each remaining hop, walked in reverse, wraps the
// current envelope in Forward{next_hop_url: route[i+1].URL, inner_packet:
// current} and encrypts it to route[i].VerifyingKey. The caller submits the
// returned envelope to route[0].URL.
func Build(route Route, topicID [onionwire.TopicIDSize]byte, op []byte) (*onionwire.Envelope, error) {
	if len(route) == 0 {
		return nil, onioncrypto.ErrEmptyRoute
	}

	last := route[len(route)-1]
	env, err := layercrypto.EncryptLayer(&onionwire.Payload{
		Deliver: &onionwire.DeliverPayload{TopicID: topicID, Op: op},
	}, last.VerifyingKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt terminal layer: %w", err)
	}

	for i := len(route) - 2; i >= 0; i-- {
		wrapped := &onionwire.Payload{Forward: &onionwire.ForwardPayload{
			NextHopURL:  route[i+1].URL,
			InnerPacket: env.Bytes(),
		}}

		env, err = layercrypto.EncryptLayer(wrapped, route[i].VerifyingKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt layer for hop %d: %w", i, err)
		}
	}

	return env, nil
}
