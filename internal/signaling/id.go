package signaling

import (
	"crypto/rand"
	"encoding/hex"
)

// idBytes gives 12 hex characters, plenty for the per-room uniqueness the
// protocol needs.
const idBytes = 6

// newParticipantID returns a fresh random participant id. Collision checking
// against live connections happens in the hub, which owns the id table.
func newParticipantID() string {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic("signaling: random source unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
