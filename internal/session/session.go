// Package session owns the client side of the control connection: join and
// rejoin, reconnect with backoff, the application-level heartbeat, and the
// wiring between the signaling server, the peer mesh and the revision
// tracker.
package session

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/mesh"
	"github.com/JustSadSock/realtime-canvas/internal/protocol"
	"github.com/JustSadSock/realtime-canvas/internal/statesync"
)

// Handlers are the application's view of the session. All handlers are
// optional and run on session goroutines; they must not block.
type Handlers struct {
	// OnJoined fires after every successful join, including rejoins after
	// a reconnect. The assigned id changes on every join.
	OnJoined func(self string, roster []string)

	// OnPeerReady fires once per peer when both direct channels are open.
	OnPeerReady func(id string)

	// OnPeerClosed fires when an established peer connection is torn down.
	OnPeerClosed func(id string)

	// OnPeerLeft fires when a participant leaves the room.
	OnPeerLeft func(id string)

	// OnReliable delivers a reliable application message, from either a
	// direct channel or the relay fallback. Duplicates are possible;
	// apply idempotently.
	OnReliable func(from string, data []byte)

	// OnEphemeral delivers a best-effort low-latency payload.
	OnEphemeral func(from string, data []byte)

	// OnRevision fires when the room's authoritative revision advances.
	OnRevision func(rev int64)

	// OnState delivers a pulled snapshot.
	OnState func(state json.RawMessage, rev int64)

	// OnHeartbeat reports the measured application-level round trip.
	OnHeartbeat func(rtt time.Duration)
}

// Session is one logical connection to a room. Create one per room; multiple
// independent sessions coexist freely.
type Session struct {
	cfg      *config.Config
	handlers Handlers
	mesh     *mesh.Manager
	tracker  *statesync.Tracker

	mu             sync.Mutex
	conn           *controlConn
	roomKey        string
	selfID         string
	retries        int
	reconnectTimer *time.Timer
	rng            *rand.Rand

	manualClose atomic.Bool
	lastRTT     atomic.Int64
}

// New creates a session. Call Connect to join a room.
func New(cfg *config.Config) *Session {
	s := &Session{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	s.mesh = mesh.NewManager(cfg, &signalerAdapter{s: s}, mesh.Events{
		OnPeerReady: func(id string) {
			if h := s.handlers.OnPeerReady; h != nil {
				h(id)
			}
		},
		OnPeerClosed: func(id string) {
			if h := s.handlers.OnPeerClosed; h != nil {
				h(id)
			}
		},
		OnReliable: func(from string, data []byte) {
			if h := s.handlers.OnReliable; h != nil {
				h(from, data)
			}
		},
		OnEphemeral: func(from string, data []byte) {
			if h := s.handlers.OnEphemeral; h != nil {
				h(from, data)
			}
		},
	})
	s.tracker = statesync.New(s.requestState)

	return s
}

// Connect joins roomKey and remembers the descriptor for replay across
// reconnects. It clears the manual-close flag, so a disconnected session can
// be connected again.
func (s *Session) Connect(roomKey string, handlers Handlers) error {
	s.manualClose.Store(false)

	s.mu.Lock()
	s.roomKey = roomKey
	s.handlers = handlers
	s.retries = 0
	s.mu.Unlock()

	return s.dialAndJoin()
}

func (s *Session) dialAndJoin() error {
	cc, err := dialControl(s.cfg.SignalURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.manualClose.Load() {
		// A Disconnect racing the dial wins: discard the fresh connection
		// instead of installing it.
		s.mu.Unlock()
		cc.close()
		return ErrManuallyClosed
	}
	old := s.conn
	s.conn = cc
	roomKey := s.roomKey
	s.mu.Unlock()

	// A still-live previous incarnation (Connect on a connected session)
	// is retired; its read loop sees a stale conn and stays quiet.
	if old != nil {
		old.close()
	}

	go s.readLoop(cc)
	go s.heartbeatLoop(cc)

	return cc.send(&protocol.Message{Kind: protocol.KindJoin, RoomKey: roomKey})
}

// Disconnect sets the manual-close flag, closes the control connection and
// tears down every peer connection before returning. Any pending reconnect
// timer becomes a no-op.
func (s *Session) Disconnect() {
	s.manualClose.Store(true)

	s.mu.Lock()
	timer := s.reconnectTimer
	s.reconnectTimer = nil
	cc := s.conn
	s.conn = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cc != nil {
		cc.close()
	}
	s.mesh.CloseAll()
}

// Close disconnects and makes the session permanently unusable.
func (s *Session) Close() {
	s.Disconnect()
	s.mesh.Close()
}

// SelfID returns the server-assigned participant id of the current join, or
// empty when not joined.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// LastRTT returns the most recent application-level heartbeat round trip.
func (s *Session) LastRTT() time.Duration {
	return time.Duration(s.lastRTT.Load())
}

// OpenPeers lists peers with both direct channels open.
func (s *Session) OpenPeers() []string {
	return s.mesh.OpenPeers()
}

// SendReliable serializes v and broadcasts it to every other room member:
// over direct reliable channels when any are open, otherwise through the
// server relay.
func (s *Session) SendReliable(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return s.mesh.BroadcastReliable(data)
}

// SendReliableTo serializes v for one peer. Without an open direct channel
// the best available substitute is a room-wide relay broadcast.
func (s *Session) SendReliableTo(id string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return s.mesh.SendReliableTo(id, data)
}

// SendEphemeral serializes v and broadcasts it over the low-latency
// channels. It never queues and never errors: under backpressure, or with no
// channel open, the payload is simply dropped.
func (s *Session) SendEphemeral(v any) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return
	}
	s.mesh.BroadcastEphemeral(data)
}

// SaveState stores the snapshot on the server under a revision one past
// everything this session has observed, and returns that revision. Other
// members are notified with the revision number only.
func (s *Session) SaveState(state json.RawMessage) (int64, error) {
	rev := s.tracker.NextRevision()
	err := s.send(&protocol.Message{
		Kind:     protocol.KindStateSave,
		State:    state,
		Revision: protocol.NewRevision(rev),
	})
	return rev, err
}

// RequestState pulls the current snapshot; the response arrives via OnState.
func (s *Session) RequestState() error {
	return s.send(&protocol.Message{Kind: protocol.KindStateLoad})
}

// Revision returns the highest snapshot revision this session has observed.
func (s *Session) Revision() int64 {
	return s.tracker.Last()
}

func (s *Session) send(msg *protocol.Message) error {
	s.mu.Lock()
	cc := s.conn
	s.mu.Unlock()
	if cc == nil {
		return ErrNotConnected
	}
	return cc.send(msg)
}

// requestState is the tracker's pull callback.
func (s *Session) requestState() {
	if err := s.send(&protocol.Message{Kind: protocol.KindStateLoad}); err != nil {
		slog.Debug("state pull failed", "err", err)
	}
}

// readLoop dispatches frames from one connection incarnation until it dies,
// then hands over to the reconnect machinery.
func (s *Session) readLoop(cc *controlConn) {
	for msg := range cc.incoming {
		s.dispatch(msg)
	}
	cc.close()

	s.mu.Lock()
	current := s.conn == cc
	if current {
		s.conn = nil
		s.selfID = ""
	}
	s.mu.Unlock()
	if !current {
		// A stale incarnation finishing after a newer dial.
		return
	}

	// Direct channels are keyed to the ids of the join that created them;
	// a rejoin assigns fresh ids, so the whole table is rebuilt.
	s.mesh.CloseAll()

	if s.manualClose.Load() {
		return
	}
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	retry := s.retries
	s.retries++
	delay := nextBackoff(retry, s.rng)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		if s.manualClose.Load() {
			return
		}
		if err := s.dialAndJoin(); err != nil {
			// Covers both dial failures and a Disconnect that landed
			// while the dial was in flight.
			if s.manualClose.Load() {
				return
			}
			slog.Debug("reconnect attempt failed", "retry", retry+1, "err", err)
			s.scheduleReconnect()
		}
	})
	s.mu.Unlock()

	slog.Info("reconnect scheduled", "attempt", retry+1, "delay", delay)
}

func (s *Session) heartbeatLoop(cc *controlConn) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cc.done:
			return
		case <-ticker.C:
			cc.send(&protocol.Message{
				Kind: protocol.KindAppPing,
				T:    time.Now().UnixMilli(),
			})
		}
	}
}

// dispatch routes one control frame. Unknown kinds are ignored.
func (s *Session) dispatch(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindJoined:
		s.handleJoined(msg)

	case protocol.KindPeerJoined:
		if !s.cfg.RelayOnly {
			s.mesh.MaybeDial(msg.ID)
		}

	case protocol.KindPeerLeft:
		s.mesh.HandlePeerLeft(msg.ID)
		if h := s.handlers.OnPeerLeft; h != nil {
			h(msg.ID)
		}

	case protocol.KindSignal:
		if s.cfg.RelayOnly || msg.Payload == nil {
			return
		}
		p, err := protocol.DecodeSignal(msg.Payload)
		if err != nil {
			return
		}
		s.mesh.HandleSignal(msg.From, p)

	case protocol.KindRelay:
		if h := s.handlers.OnReliable; h != nil && msg.Op != nil {
			h(msg.From, msg.Op)
		}

	case protocol.KindStateRev:
		if msg.Revision == nil {
			return
		}
		if s.tracker.OnNotice(*msg.Revision) {
			if h := s.handlers.OnRevision; h != nil {
				h(*msg.Revision)
			}
		}

	case protocol.KindState:
		if msg.Absent {
			s.tracker.OnAbsent()
			return
		}
		var rev int64
		if msg.Revision != nil {
			rev = *msg.Revision
		}
		s.tracker.OnSnapshot(rev)
		if h := s.handlers.OnState; h != nil {
			h(msg.State, rev)
		}

	case protocol.KindAppPong:
		if msg.T == 0 {
			return
		}
		rtt := time.Duration(time.Now().UnixMilli()-msg.T) * time.Millisecond
		if rtt < 0 {
			rtt = 0
		}
		s.lastRTT.Store(int64(rtt))
		if h := s.handlers.OnHeartbeat; h != nil {
			h(rtt)
		}

	default:
		slog.Debug("ignoring frame", "kind", msg.Kind)
	}
}

func (s *Session) handleJoined(msg *protocol.Message) {
	s.mu.Lock()
	s.selfID = msg.ID
	s.retries = 0
	s.mu.Unlock()

	// Stale records from a previous incarnation reference retired ids.
	s.mesh.CloseAll()
	s.mesh.SetSelf(msg.ID)

	slog.Info("joined room", "self", msg.ID, "room", msg.RoomKey, "peers", len(msg.Roster))

	if h := s.handlers.OnJoined; h != nil {
		h(msg.ID, msg.Roster)
	}

	if !s.cfg.RelayOnly {
		for _, id := range msg.Roster {
			s.mesh.MaybeDial(id)
		}
	}

	if msg.Revision != nil {
		if s.tracker.OnNotice(*msg.Revision) {
			if h := s.handlers.OnRevision; h != nil {
				h(*msg.Revision)
			}
		}
	}
}

// signalerAdapter is the mesh manager's view of the control connection.
type signalerAdapter struct {
	s *Session
}

func (a *signalerAdapter) SendSignal(to string, p *protocol.SignalPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return a.s.send(&protocol.Message{
		Kind:    protocol.KindSignal,
		To:      to,
		Payload: raw,
	})
}

func (a *signalerAdapter) Relay(op []byte) error {
	return a.s.send(&protocol.Message{Kind: protocol.KindRelay, Op: op})
}

func (a *signalerAdapter) Backlog() int64 {
	a.s.mu.Lock()
	cc := a.s.conn
	a.s.mu.Unlock()
	if cc == nil {
		return 0
	}
	return cc.backlog.Load()
}
