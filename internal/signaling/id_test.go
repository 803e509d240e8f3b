package signaling

import (
	"encoding/hex"
	"testing"
)

func TestParticipantIDFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := newParticipantID()
		if len(id) != idBytes*2 {
			t.Fatalf("id %q has length %d, want %d", id, len(id), idBytes*2)
		}
		if _, err := hex.DecodeString(id); err != nil {
			t.Fatalf("id %q is not hex: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("id %q repeated", id)
		}
		seen[id] = true
	}
}
