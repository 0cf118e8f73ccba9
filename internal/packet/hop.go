// Package packet implements build_packet (spec §4.4): given an ordered
// route of hops and a terminal (topic_id, op), produce the outermost onion
// envelope the sender submits to route[0].URL.
package packet

import "github.com/deltamesh/onionmesh/internal/onioncrypto"

// Hop identifies one relay in a route: its long-term Ed25519 verifying key
// and the https URL it accepts envelopes at. Hop values are small and
// read-only; routes pass them by value with no back-references (spec §9).
type Hop struct {
	VerifyingKey [onioncrypto.KeySize]byte
	URL          string
}

// Route is an ordered, non-empty sequence of hops. Route[0] is the first
// (outermost) hop; Route[len(Route)-1] is the terminal hop that executes
// the Deliver.
type Route []Hop
