package basp

import (
	"crypto/rand"
	"fmt"
)

// NewNodeID generates a fresh, effectively-unique NodeID for this process.
// Grounded on the teacher's createNewHostRef, which derives a host
// identity from local machine state at startup; this module uses random
// bytes instead of a local IP + epoch, since the wire header needs a
// fixed-width identity rather than a human-readable address.
func NewNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NoNode, fmt.Errorf("basp: generate node id: %w", err)
	}
	if id.IsNone() {
		// Astronomically unlikely, but NoNode must never be a live identity.
		return NewNodeID()
	}
	return id, nil
}
