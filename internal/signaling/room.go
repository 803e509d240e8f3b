package signaling

import (
	"encoding/json"
	"sort"

	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

// Room is a named group of concurrently-joined participants. It is created on
// the first join and forgotten when the last member leaves. All access happens
// on the hub goroutine.
type Room struct {
	Key     string
	Members map[string]*Client
}

func newRoom(key string) *Room {
	return &Room{
		Key:     key,
		Members: make(map[string]*Client),
	}
}

// Roster returns the ids of all members except exclude, sorted so that
// responses are stable.
func (r *Room) Roster(exclude string) []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Broadcast queues msg for every member except exclude.
func (r *Room) Broadcast(exclude string, msg *protocol.Message) {
	for id, member := range r.Members {
		if id != exclude {
			member.enqueue(msg)
		}
	}
}

// snapshot is the room's opaque application state plus the revision it was
// saved under. The hub stores snapshots in a table separate from room
// membership so they can outlive an empty room.
type snapshot struct {
	state    json.RawMessage
	revision int64
}
