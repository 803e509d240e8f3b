// Package mesh maintains direct peer connections: one Connection Record per
// remote participant, the dial policy deciding who initiates, the dual
// channel pair per peer, and the delivery layer on top of it.
package mesh

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

// DefaultNegotiationTimeout bounds a negotiation that never completes, e.g.
// when no viable network path exists. Expiry purges the record.
const DefaultNegotiationTimeout = 30 * time.Second

// Signaler is the manager's outbound view of the control connection.
type Signaler interface {
	// SendSignal relays a negotiation payload to one peer.
	SendSignal(to string, payload *protocol.SignalPayload) error

	// Relay broadcasts an opaque application message to the room through
	// the signaling server.
	Relay(op []byte) error

	// Backlog reports the queued-byte backlog of the fallback path.
	Backlog() int64
}

// Events are the manager's upward notifications. Handlers run on transport
// goroutines and must not block.
type Events struct {
	// OnPeerReady fires exactly once per Connection Record, when both
	// logical channels are open.
	OnPeerReady func(id string)

	// OnPeerClosed fires when an OPEN record is purged. Records that
	// never reached OPEN disappear silently; the absence of OnPeerReady
	// is their only externally visible signal.
	OnPeerClosed func(id string)

	OnReliable  func(from string, data []byte)
	OnEphemeral func(from string, data []byte)
}

// Manager owns the Connection Record table, keyed by remote participant id.
type Manager struct {
	cfg      *config.Config
	signaler Signaler
	events   Events

	mu    sync.Mutex
	self  string
	links map[string]*link

	// suppressed is the backpressure latch for ephemeral sends.
	suppressed bool

	negotiationTimeout time.Duration
	closed             bool
}

// NewManager creates a manager. SetSelf must be called (with the id assigned
// by the server) before any dialing happens.
func NewManager(cfg *config.Config, signaler Signaler, events Events) *Manager {
	return &Manager{
		cfg:                cfg,
		signaler:           signaler,
		events:             events,
		links:              make(map[string]*link),
		negotiationTimeout: DefaultNegotiationTimeout,
	}
}

// SetSelf records the local participant id. Each join assigns a fresh one.
func (m *Manager) SetSelf(id string) {
	m.mu.Lock()
	m.self = id
	m.mu.Unlock()
}

// Self returns the local participant id.
func (m *Manager) Self() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// OpenPeers lists remote ids whose records are OPEN, sorted.
func (m *Manager) OpenPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.links))
	for id, l := range m.links {
		if l.open() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MaybeDial runs the dial policy against remote and, when this side is the
// designated initiator, starts negotiation. Both discovery paths (the join
// roster walk and the peer_joined notice) call this and nothing else, so the
// policy is applied identically everywhere.
func (m *Manager) MaybeDial(remote string) {
	m.mu.Lock()
	self := m.self
	if m.closed || remote == "" || remote == self || !ShouldInitiate(self, remote) {
		m.mu.Unlock()
		return
	}
	if _, exists := m.links[remote]; exists {
		m.mu.Unlock()
		return
	}
	l := m.newLinkLocked(remote, true)
	m.mu.Unlock()

	go m.runInitiator(l)
}

// newLinkLocked inserts a fresh NEW record. Caller holds m.mu and has
// verified no record exists for the id.
func (m *Manager) newLinkLocked(remote string, initiator bool) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		id:        remote,
		initiator: initiator,
		state:     stateNew,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.links[remote] = l
	return l
}

func (m *Manager) runInitiator(l *link) {
	pc, err := newPeerConnection(m.cfg)
	if err != nil {
		m.fail(l, NewPeerError("create peer connection", l.id, err))
		return
	}
	if !m.adoptPC(l, pc) {
		return
	}
	m.wirePC(l, pc)

	ordered := true
	rel, err := pc.CreateDataChannel(labelReliable, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		m.fail(l, NewPeerError("create reliable channel", l.id, err))
		return
	}
	m.wireChannel(l, rel)

	unordered := false
	noRetransmits := uint16(0)
	eph, err := pc.CreateDataChannel(labelEphemeral, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
	})
	if err != nil {
		m.fail(l, NewPeerError("create ephemeral channel", l.id, err))
		return
	}
	m.wireChannel(l, eph)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.fail(l, NewPeerError("create offer", l.id, err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.fail(l, NewPeerError("set local description", l.id, err))
		return
	}
	if err := m.signaler.SendSignal(l.id, &protocol.SignalPayload{Type: "offer", SDP: offer.SDP}); err != nil {
		m.fail(l, NewPeerError("send offer", l.id, err))
		return
	}

	m.watch(l)
}

func (m *Manager) runResponder(l *link, sdp string) {
	pc, err := newPeerConnection(m.cfg)
	if err != nil {
		m.fail(l, NewPeerError("create peer connection", l.id, err))
		return
	}
	if !m.adoptPC(l, pc) {
		return
	}
	m.wirePC(l, pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.wireChannel(l, dc)
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		m.fail(l, NewPeerError("set remote description", l.id, err))
		return
	}
	m.flushPending(l)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.fail(l, NewPeerError("create answer", l.id, err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.fail(l, NewPeerError("set local description", l.id, err))
		return
	}
	if err := m.signaler.SendSignal(l.id, &protocol.SignalPayload{Type: "answer", SDP: answer.SDP}); err != nil {
		m.fail(l, NewPeerError("send answer", l.id, err))
		return
	}

	m.watch(l)
}

// adoptPC attaches the peer connection to the record unless it was purged
// while the connection was being built.
func (m *Manager) adoptPC(l *link, pc *webrtc.PeerConnection) bool {
	m.mu.Lock()
	if l.state == stateClosing || l.state == stateClosed {
		m.mu.Unlock()
		pc.Close()
		return false
	}
	l.pc = pc
	l.state = stateNegotiating
	m.mu.Unlock()
	return true
}

// HandleSignal applies a relayed negotiation payload from a peer.
func (m *Manager) HandleSignal(from string, p *protocol.SignalPayload) {
	switch {
	case p.Type == "offer" && p.SDP != "":
		m.handleOffer(from, p.SDP)
	case p.Type == "answer" && p.SDP != "":
		m.handleAnswer(from, p.SDP)
	case p.Candidate != nil:
		m.handleCandidate(from, p.Candidate)
	default:
		slog.Debug("ignoring signal", "from", from, "type", p.Type)
	}
}

func (m *Manager) handleOffer(from, sdp string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if ShouldInitiate(m.self, from) {
		// Glare: this side is the designated initiator, so the smaller
		// id's offer (ours) wins and the competing offer is discarded.
		m.mu.Unlock()
		slog.Debug("discarding competing offer", "from", from)
		return
	}
	if existing, ok := m.links[from]; ok {
		// A stale record must be purged entirely before its
		// replacement is created.
		m.mu.Unlock()
		m.fail(existing, NewPeerError("superseded by new offer", from, ErrUnexpectedSignal))
		m.mu.Lock()
		if _, still := m.links[from]; still {
			m.mu.Unlock()
			return
		}
	}
	l := m.newLinkLocked(from, false)
	m.mu.Unlock()

	go m.runResponder(l, sdp)
}

func (m *Manager) handleAnswer(from, sdp string) {
	m.mu.Lock()
	l, ok := m.links[from]
	if !ok || !l.initiator || l.pc == nil {
		m.mu.Unlock()
		return
	}
	pc := l.pc
	m.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(answer); err != nil {
		m.fail(l, NewPeerError("set remote description", from, err))
		return
	}
	m.flushPending(l)
}

func (m *Manager) handleCandidate(from string, raw json.RawMessage) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		slog.Debug("dropping malformed candidate", "from", from, "err", err)
		return
	}

	m.mu.Lock()
	l, ok := m.links[from]
	if !ok {
		// Candidate for a negotiation that no longer (or never)
		// exists; the peer may have been purged already.
		m.mu.Unlock()
		return
	}
	if !l.remoteSet || l.pc == nil {
		// Candidates may arrive out of order relative to the
		// offer/answer exchange; hold them until the remote
		// description is applied.
		l.pending = append(l.pending, init)
		m.mu.Unlock()
		return
	}
	pc := l.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		slog.Debug("add candidate failed", "from", from, "err", err)
	}
}

// flushPending marks the remote description applied and drains candidates
// buffered before it.
func (m *Manager) flushPending(l *link) {
	m.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	pc := l.pc
	m.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			slog.Debug("add buffered candidate failed", "peer", l.id, "err", err)
		}
	}
}

func (m *Manager) wirePC(l *link, pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := m.signaler.SendSignal(l.id, &protocol.SignalPayload{Candidate: raw}); err != nil {
			slog.Debug("send candidate failed", "peer", l.id, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			m.fail(l, NewPeerError("transport", l.id, ErrPeerDisconnected))
		default:
		}
	})
}

func (m *Manager) wireChannel(l *link, dc *webrtc.DataChannel) {
	label := dc.Label()

	m.mu.Lock()
	switch label {
	case labelReliable:
		l.reliable = dc
	case labelEphemeral:
		l.ephemeral = dc
	default:
		m.mu.Unlock()
		slog.Debug("ignoring unexpected channel", "peer", l.id, "label", label)
		dc.Close()
		return
	}
	m.mu.Unlock()

	dc.OnOpen(func() {
		m.channelOpened(l, label)
	})
	dc.OnClose(func() {
		m.fail(l, NewPeerError("channel closed", l.id, ErrPeerDisconnected))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		switch label {
		case labelReliable:
			if m.events.OnReliable != nil {
				m.events.OnReliable(l.id, msg.Data)
			}
		case labelEphemeral:
			if m.events.OnEphemeral != nil {
				m.events.OnEphemeral(l.id, msg.Data)
			}
		}
	})
}

// channelOpened records one channel coming up and fires the single
// peer-ready notification once both have.
func (m *Manager) channelOpened(l *link, label string) {
	m.mu.Lock()
	switch label {
	case labelReliable:
		l.relOpen = true
	case labelEphemeral:
		l.ephOpen = true
	}
	ready := l.state == stateNegotiating && l.channelsReady()
	if ready {
		l.state = stateOpen
	}
	m.mu.Unlock()

	if ready {
		slog.Info("peer ready", "peer", l.id, "initiator", l.initiator)
		if m.events.OnPeerReady != nil {
			m.events.OnPeerReady(l.id)
		}
	}
}

// watch bounds the negotiation. A record that has not reached OPEN when the
// timer fires is purged; purge cancels the context, so completed or failed
// records cost nothing here.
func (m *Manager) watch(l *link) {
	go func() {
		timer := time.NewTimer(m.negotiationTimeout)
		defer timer.Stop()
		select {
		case <-l.ctx.Done():
		case <-timer.C:
			m.mu.Lock()
			negotiating := l.state == stateNegotiating || l.state == stateNew
			m.mu.Unlock()
			if negotiating {
				m.fail(l, NewPeerError("negotiate", l.id, ErrTimeout))
			}
		}
	}()
}

// fail purges a record: removes it from the table immediately (so a renewed
// negotiation with the same remote id starts clean), cancels its context and
// tears the transport down. No user-facing error is surfaced.
func (m *Manager) fail(l *link, err error) {
	m.mu.Lock()
	if l.state == stateClosing || l.state == stateClosed {
		m.mu.Unlock()
		return
	}
	wasOpen := l.state == stateOpen
	l.state = stateClosing
	if m.links[l.id] == l {
		delete(m.links, l.id)
	}
	pc := l.pc
	m.mu.Unlock()

	l.cancel()
	if pc != nil {
		pc.Close()
	}

	m.mu.Lock()
	l.state = stateClosed
	m.mu.Unlock()

	slog.Debug("record purged", "peer", l.id, "reason", err)
	if wasOpen && m.events.OnPeerClosed != nil {
		m.events.OnPeerClosed(l.id)
	}
}

// HandlePeerLeft tears down the record for a departed participant.
func (m *Manager) HandlePeerLeft(id string) {
	m.mu.Lock()
	l, ok := m.links[id]
	m.mu.Unlock()
	if ok {
		m.fail(l, NewPeerError("peer left", id, ErrPeerDisconnected))
	}
}

// CloseAll purges every record. The manager stays usable; a rejoin builds a
// fresh table.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, l := range links {
		m.fail(l, NewError("close", ErrClosed))
	}
}

// Close purges every record and refuses further dialing.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CloseAll()
}
