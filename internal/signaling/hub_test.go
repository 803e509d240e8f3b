package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

// newTestClient registers a connection-less client directly in the hub's
// tables, the way Run's register arm would. Tests drive dispatch on the
// calling goroutine, so frames accumulate in the buffered Send queue.
func newTestClient(h *Hub, id string) *Client {
	c := &Client{
		Hub:  h,
		ID:   id,
		Send: make(chan *protocol.Message, 16),
	}
	h.clients[id] = c
	return c
}

func recv(t *testing.T, c *Client) *protocol.Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	default:
		t.Fatalf("no frame queued for %s", c.ID)
		return nil
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected %s frame queued for %s", msg.Kind, c.ID)
	default:
	}
}

func join(h *Hub, c *Client, roomKey string) {
	h.dispatch(c, &protocol.Message{Kind: protocol.KindJoin, RoomKey: roomKey})
}

func TestJoinRosterAndPeerJoined(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")

	join(h, a, "demo")
	joined := recv(t, a)
	if joined.Kind != protocol.KindJoined || joined.ID != "aa" {
		t.Fatalf("first join reply = %+v", joined)
	}
	if len(joined.Roster) != 0 {
		t.Fatalf("first member roster = %v, want empty", joined.Roster)
	}
	if joined.Revision != nil {
		t.Fatalf("revision = %v for room with no snapshot", *joined.Revision)
	}

	join(h, b, "demo")
	joined = recv(t, b)
	if len(joined.Roster) != 1 || joined.Roster[0] != "aa" {
		t.Fatalf("second member roster = %v, want [aa]", joined.Roster)
	}

	notice := recv(t, a)
	if notice.Kind != protocol.KindPeerJoined || notice.ID != "bb" {
		t.Fatalf("existing member got %+v, want peer_joined bb", notice)
	}
	expectNone(t, b)
}

func TestJoinEmptyRoomKeyIgnored(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")

	join(h, a, "")
	expectNone(t, a)
	if len(h.rooms) != 0 {
		t.Fatalf("rooms = %d, want 0", len(h.rooms))
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")

	join(h, a, "one")
	join(h, b, "one")
	recv(t, a) // joined
	recv(t, b) // joined
	recv(t, a) // peer_joined bb

	join(h, b, "two")
	left := recv(t, a)
	if left.Kind != protocol.KindPeerLeft || left.ID != "bb" {
		t.Fatalf("old room got %+v, want peer_left bb", left)
	}
	joined := recv(t, b)
	if joined.RoomKey != "two" || len(joined.Roster) != 0 {
		t.Fatalf("move reply = %+v", joined)
	}
	if len(h.rooms["one"].Members) != 1 {
		t.Fatalf("old room size = %d, want 1", len(h.rooms["one"].Members))
	}
}

func TestSignalAddressing(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")
	c := newTestClient(h, "cc")
	for _, cl := range []*Client{a, b, c} {
		join(h, cl, "demo")
	}
	for _, cl := range []*Client{a, b, c} {
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	// Targeted: only bb sees it, and From is stamped server-side even if
	// the sender lied.
	h.dispatch(a, &protocol.Message{Kind: protocol.KindSignal, To: "bb", From: "zz", Payload: payload})
	out := recv(t, b)
	if out.From != "aa" || out.To != "bb" {
		t.Fatalf("signal routing = from %q to %q", out.From, out.To)
	}
	expectNone(t, c)

	// Unknown target: dropped, everyone stays connected.
	h.dispatch(a, &protocol.Message{Kind: protocol.KindSignal, To: "gone", Payload: payload})
	expectNone(t, b)
	expectNone(t, c)

	// No target: everyone but the sender.
	h.dispatch(a, &protocol.Message{Kind: protocol.KindSignal, Payload: payload})
	recv(t, b)
	recv(t, c)
	expectNone(t, a)

	// No payload: dropped.
	h.dispatch(a, &protocol.Message{Kind: protocol.KindSignal, To: "bb"})
	expectNone(t, b)
}

func TestRelayFanout(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")
	c := newTestClient(h, "cc")
	for _, cl := range []*Client{a, b, c} {
		join(h, cl, "demo")
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}
	// Drain the peer_joined notices the later joins produced.
	for _, cl := range []*Client{a, b} {
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}

	h.dispatch(a, &protocol.Message{Kind: protocol.KindRelay, Op: []byte("op-bytes")})
	for _, cl := range []*Client{b, c} {
		out := recv(t, cl)
		if out.Kind != protocol.KindRelay || out.From != "aa" || string(out.Op) != "op-bytes" {
			t.Fatalf("%s got %+v", cl.ID, out)
		}
	}
	expectNone(t, a)
}

func TestStateSaveNotifyLoad(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")
	join(h, a, "demo")
	join(h, b, "demo")
	for _, cl := range []*Client{a, b} {
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}

	state := json.RawMessage(`{"strokes":3}`)
	h.dispatch(a, &protocol.Message{
		Kind:     protocol.KindStateSave,
		State:    state,
		Revision: protocol.NewRevision(3),
	})

	// Others get a revision notice without the payload.
	notice := recv(t, b)
	if notice.Kind != protocol.KindStateRev || *notice.Revision != 3 {
		t.Fatalf("notice = %+v", notice)
	}
	if notice.State != nil {
		t.Fatal("revision notice carried the payload")
	}
	expectNone(t, a)

	h.dispatch(b, &protocol.Message{Kind: protocol.KindStateLoad})
	got := recv(t, b)
	if got.Kind != protocol.KindState || *got.Revision != 3 || string(got.State) != string(state) {
		t.Fatalf("state response = %+v", got)
	}

	// Late joiner's reply advertises the revision up front.
	c := newTestClient(h, "cc")
	join(h, c, "demo")
	joined := recv(t, c)
	if joined.Revision == nil || *joined.Revision != 3 {
		t.Fatalf("joined revision = %v, want 3", joined.Revision)
	}
}

func TestStateLoadAbsent(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	join(h, a, "demo")
	recv(t, a)

	h.dispatch(a, &protocol.Message{Kind: protocol.KindStateLoad})
	got := recv(t, a)
	if got.Kind != protocol.KindState || !got.Absent {
		t.Fatalf("response = %+v, want absent state", got)
	}
	if got.Revision != nil {
		t.Fatalf("absent response carried revision %d", *got.Revision)
	}
}

func TestStateSaveRequiresRevision(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	join(h, a, "demo")
	recv(t, a)

	h.dispatch(a, &protocol.Message{Kind: protocol.KindStateSave, State: json.RawMessage(`{}`)})
	if len(h.snapshots) != 0 {
		t.Fatal("snapshot stored without a revision")
	}
}

func TestSnapshotOutlivesEmptyRoom(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	join(h, a, "demo")
	recv(t, a)
	h.dispatch(a, &protocol.Message{
		Kind:     protocol.KindStateSave,
		State:    json.RawMessage(`{}`),
		Revision: protocol.NewRevision(1),
	})

	h.removeClient(a)
	if _, ok := h.rooms["demo"]; ok {
		t.Fatal("empty room not reaped")
	}
	if _, ok := h.snapshots["demo"]; !ok {
		t.Fatal("snapshot dropped with the room")
	}

	b := newTestClient(h, "bb")
	join(h, b, "demo")
	joined := recv(t, b)
	if joined.Revision == nil || *joined.Revision != 1 {
		t.Fatalf("rejoin revision = %v, want 1", joined.Revision)
	}
}

func TestDropStateWhenEmpty(t *testing.T) {
	h := NewHub(Options{DropStateWhenEmpty: true})
	a := newTestClient(h, "aa")
	join(h, a, "demo")
	recv(t, a)
	h.dispatch(a, &protocol.Message{
		Kind:     protocol.KindStateSave,
		State:    json.RawMessage(`{}`),
		Revision: protocol.NewRevision(1),
	})

	h.removeClient(a)
	if _, ok := h.snapshots["demo"]; ok {
		t.Fatal("snapshot survived despite DropStateWhenEmpty")
	}
}

func TestRemoveBroadcastsPeerLeft(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")
	join(h, a, "demo")
	join(h, b, "demo")
	for _, cl := range []*Client{a, b} {
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}

	h.removeClient(a)
	left := recv(t, b)
	if left.Kind != protocol.KindPeerLeft || left.ID != "aa" {
		t.Fatalf("got %+v, want peer_left aa", left)
	}
	if _, ok := <-a.Send; ok {
		t.Fatal("removed client's queue not closed")
	}

	// A second remove for the same client is a no-op, not a double close.
	h.removeClient(a)
}

func TestListSortedAndUnjoined(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	b := newTestClient(h, "bb")
	join(h, a, "zeta")
	join(h, b, "alpha")
	for _, cl := range []*Client{a, b} {
		for len(cl.Send) > 0 {
			<-cl.Send
		}
	}

	// A bare diagnostic connection that never joined.
	probe := newTestClient(h, "cc")
	h.dispatch(probe, &protocol.Message{Kind: protocol.KindList})
	out := recv(t, probe)
	if out.Kind != protocol.KindRooms || len(out.Rooms) != 2 {
		t.Fatalf("rooms response = %+v", out)
	}
	if out.Rooms[0].RoomKey != "alpha" || out.Rooms[1].RoomKey != "zeta" {
		t.Fatalf("rooms not sorted: %+v", out.Rooms)
	}
	if out.Rooms[0].Count != 1 {
		t.Fatalf("alpha count = %d, want 1", out.Rooms[0].Count)
	}
}

func TestAppPingEcho(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")

	h.dispatch(a, &protocol.Message{Kind: protocol.KindAppPing, T: 12345})
	out := recv(t, a)
	if out.Kind != protocol.KindAppPong || out.T != 12345 {
		t.Fatalf("got %+v, want app_pong t=12345", out)
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	h := NewHub(Options{})
	a := newTestClient(h, "aa")
	join(h, a, "demo")
	recv(t, a)

	h.dispatch(a, &protocol.Message{Kind: "no_such_kind"})
	h.dispatch(a, &protocol.Message{Kind: protocol.KindJoined}) // server kind echoed back
	expectNone(t, a)
	if _, live := h.clients["aa"]; !live {
		t.Fatal("client dropped over an unknown kind")
	}
}

func TestRunRegisterAndShutdown(t *testing.T) {
	h := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := &Client{Hub: h, Send: make(chan *protocol.Message, 16)}
	h.Register <- c
	h.Inbound <- inbound{from: c, msg: &protocol.Message{Kind: protocol.KindJoin, RoomKey: "demo"}}

	select {
	case msg := <-c.Send:
		if msg.Kind != protocol.KindJoined || msg.ID == "" {
			t.Fatalf("join reply = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no join reply from hub loop")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub loop did not stop")
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("queue not closed on shutdown")
	}
}
