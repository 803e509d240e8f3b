package signaling

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

// Options configures hub behavior.
type Options struct {
	// DropStateWhenEmpty discards a room's snapshot when its last member
	// leaves. By default snapshots survive empty rooms so a participant
	// reconnecting after a brief outage finds the canvas where it was.
	DropStateWhenEmpty bool
}

// inbound pairs a decoded control frame with the connection it arrived on.
type inbound struct {
	from *Client
	msg  *protocol.Message
}

// Hub is the rendezvous point of the protocol: room membership, negotiation
// relay, snapshot storage and the fallback message relay. All state is
// confined to the single goroutine running Run, so none of it needs locks.
type Hub struct {
	opts Options

	rooms     map[string]*Room
	clients   map[string]*Client
	snapshots map[string]*snapshot

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan inbound

	// done is closed on shutdown so pumps blocked on Unregister can bail.
	done chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts Options) *Hub {
	return &Hub{
		opts:       opts,
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		snapshots:  make(map[string]*snapshot),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and control frames until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.Register:
			// Assign a fresh id, unique among live connections.
			id := newParticipantID()
			for _, taken := h.clients[id]; taken; _, taken = h.clients[id] {
				id = newParticipantID()
			}
			c.ID = id
			h.clients[id] = c
			slog.Debug("connection registered", "id", id)

		case c := <-h.Unregister:
			h.removeClient(c)

		case in := <-h.Inbound:
			h.dispatch(in.from, in.msg)
		}
	}
}

// shutdown closes every client queue so the write pumps send going-away
// frames and exit, and releases any read pump blocked on Unregister.
func (h *Hub) shutdown() {
	close(h.done)
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.Send)
	}
	h.rooms = make(map[string]*Room)
}

func (h *Hub) removeClient(c *Client) {
	if _, live := h.clients[c.ID]; !live {
		// Already gone, e.g. unregister racing shutdown.
		return
	}
	delete(h.clients, c.ID)

	if room, ok := h.rooms[c.RoomKey]; ok {
		delete(room.Members, c.ID)
		if len(room.Members) == 0 {
			delete(h.rooms, room.Key)
			if h.opts.DropStateWhenEmpty {
				delete(h.snapshots, room.Key)
			}
			slog.Info("room closed", "room", room.Key)
		} else {
			room.Broadcast(c.ID, &protocol.Message{Kind: protocol.KindPeerLeft, ID: c.ID})
		}
	}

	close(c.Send)
	slog.Info("participant left", "id", c.ID, "room", c.RoomKey)
}

// dispatch routes one control frame. Unknown kinds land in the ignored arm:
// the frame is dropped and the connection stays open.
func (h *Hub) dispatch(from *Client, msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindJoin:
		h.handleJoin(from, msg)
	case protocol.KindSignal:
		h.handleSignal(from, msg)
	case protocol.KindRelay:
		h.handleRelay(from, msg)
	case protocol.KindStateSave:
		h.handleStateSave(from, msg)
	case protocol.KindStateLoad:
		h.handleStateLoad(from)
	case protocol.KindList:
		h.handleList(from)
	case protocol.KindAppPing:
		h.handleAppPing(from, msg)
	default:
		// Includes server-to-client kinds echoed back by a confused
		// client. Ignored.
		slog.Debug("ignoring frame", "id", from.ID, "kind", msg.Kind)
	}
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	if msg.RoomKey == "" {
		return
	}

	// A join from a client already in a room moves it; the old room sees a
	// normal departure.
	if old, ok := h.rooms[c.RoomKey]; ok {
		delete(old.Members, c.ID)
		if len(old.Members) == 0 {
			delete(h.rooms, old.Key)
			if h.opts.DropStateWhenEmpty {
				delete(h.snapshots, old.Key)
			}
		} else {
			old.Broadcast(c.ID, &protocol.Message{Kind: protocol.KindPeerLeft, ID: c.ID})
		}
	}

	room, ok := h.rooms[msg.RoomKey]
	if !ok {
		room = newRoom(msg.RoomKey)
		h.rooms[msg.RoomKey] = room
	}

	joined := &protocol.Message{
		Kind:    protocol.KindJoined,
		ID:      c.ID,
		RoomKey: room.Key,
		Roster:  room.Roster(c.ID),
	}
	if snap, ok := h.snapshots[room.Key]; ok {
		joined.Revision = protocol.NewRevision(snap.revision)
	}

	room.Members[c.ID] = c
	c.RoomKey = room.Key

	c.enqueue(joined)
	room.Broadcast(c.ID, &protocol.Message{Kind: protocol.KindPeerJoined, ID: c.ID})

	slog.Info("participant joined", "id", c.ID, "room", room.Key, "size", len(room.Members))
}

func (h *Hub) handleSignal(c *Client, msg *protocol.Message) {
	room, ok := h.rooms[c.RoomKey]
	if !ok || msg.Payload == nil {
		return
	}

	out := &protocol.Message{
		Kind:    protocol.KindSignal,
		From:    c.ID,
		To:      msg.To,
		Payload: msg.Payload,
	}

	if msg.To != "" {
		// Unknown targets are silently ignored: the peer may have left
		// between the sender's roster view and now.
		if target, ok := room.Members[msg.To]; ok {
			target.enqueue(out)
		}
		return
	}
	room.Broadcast(c.ID, out)
}

func (h *Hub) handleRelay(c *Client, msg *protocol.Message) {
	room, ok := h.rooms[c.RoomKey]
	if !ok || msg.Op == nil {
		return
	}
	room.Broadcast(c.ID, &protocol.Message{
		Kind: protocol.KindRelay,
		From: c.ID,
		Op:   msg.Op,
	})
}

func (h *Hub) handleStateSave(c *Client, msg *protocol.Message) {
	room, ok := h.rooms[c.RoomKey]
	if !ok || msg.State == nil || msg.Revision == nil {
		return
	}

	// Last writer wins; the server stores whatever it is given and only
	// republishes the revision number, never the payload.
	h.snapshots[room.Key] = &snapshot{state: msg.State, revision: *msg.Revision}
	room.Broadcast(c.ID, &protocol.Message{
		Kind:     protocol.KindStateRev,
		Revision: protocol.NewRevision(*msg.Revision),
	})

	slog.Info("snapshot saved", "room", room.Key, "revision", *msg.Revision, "bytes", len(msg.State))
}

func (h *Hub) handleStateLoad(c *Client) {
	snap, ok := h.snapshots[c.RoomKey]
	if !ok || c.RoomKey == "" {
		c.enqueue(&protocol.Message{Kind: protocol.KindState, Absent: true})
		return
	}
	c.enqueue(&protocol.Message{
		Kind:     protocol.KindState,
		State:    snap.state,
		Revision: protocol.NewRevision(snap.revision),
	})
}

// handleList works for any connected socket, joined or not; the CLI uses a
// bare connection for diagnostics.
func (h *Hub) handleList(c *Client) {
	keys := make([]string, 0, len(h.rooms))
	for key := range h.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rooms := make([]protocol.RoomInfo, 0, len(keys))
	for _, key := range keys {
		rooms = append(rooms, protocol.RoomInfo{
			RoomKey: key,
			Count:   len(h.rooms[key].Members),
		})
	}
	c.enqueue(&protocol.Message{Kind: protocol.KindRooms, Rooms: rooms})
}

func (h *Hub) handleAppPing(c *Client, msg *protocol.Message) {
	t := msg.T
	if t == 0 {
		t = time.Now().UnixMilli()
	}
	c.enqueue(&protocol.Message{Kind: protocol.KindAppPong, T: t})
}
