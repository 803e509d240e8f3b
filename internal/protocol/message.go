// Package protocol defines the wire format of the signaling control channel.
//
// Every frame exchanged over the control websocket is one Message. The set of
// kinds is closed: dispatch switches must handle every constant below and send
// anything else to an explicit ignored arm.
package protocol

import "encoding/json"

// Kind discriminates control-channel messages.
type Kind string

// Control-channel message kinds.
const (
	// Client to server.
	KindJoin      Kind = "join"       // enter a room
	KindSignal    Kind = "signal"     // negotiation relay (also S→C)
	KindRelay     Kind = "relay"      // application-message relay (also S→C)
	KindStateSave Kind = "state_save" // persist snapshot
	KindStateLoad Kind = "state_load" // request snapshot
	KindList      Kind = "list"       // enumerate rooms
	KindAppPing   Kind = "app_ping"   // application-level liveness probe

	// Server to client.
	KindJoined     Kind = "joined"      // join completed
	KindPeerJoined Kind = "peer_joined" // a participant entered the room
	KindPeerLeft   Kind = "peer_left"   // a participant departed or was dropped
	KindStateRev   Kind = "state_rev"   // snapshot revision advanced
	KindState      Kind = "state"       // snapshot response
	KindRooms      Kind = "rooms"       // room enumeration response
	KindAppPong    Kind = "app_pong"    // liveness probe echo
)

// Message is the single envelope for all control-channel frames. Fields are
// populated according to the kind; everything else stays zero and is omitted
// on the wire.
type Message struct {
	Kind    Kind   `json:"type"`
	RoomKey string `json:"room_key,omitempty"`

	// ID carries the subject participant: the assigned id in a joined
	// frame, the new/departed participant in peer_joined/peer_left.
	ID string `json:"id,omitempty"`

	// To/From address signal and relay frames. From is always stamped by
	// the server; a client-supplied value is ignored.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// Roster lists the other current members in a joined frame.
	Roster []string `json:"roster,omitempty"`

	// Payload carries an opaque negotiation payload for signal frames.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Op carries an opaque application message for relay frames.
	Op []byte `json:"op,omitempty"`

	// State and Revision carry snapshot traffic. Absent marks a state
	// response for a room that has no stored snapshot.
	State    json.RawMessage `json:"state,omitempty"`
	Revision *int64          `json:"revision,omitempty"`
	Absent   bool            `json:"absent,omitempty"`

	// T is the caller's unix-milli timestamp, echoed in app_pong.
	T int64 `json:"t,omitempty"`

	Rooms []RoomInfo `json:"rooms,omitempty"`
}

// RoomInfo is one entry of a rooms diagnostic response.
type RoomInfo struct {
	RoomKey string `json:"room_key"`
	Count   int    `json:"count"`
}

// SignalPayload is the negotiation payload relayed between two peers. Exactly
// one of SDP or Candidate is set. The candidate is kept as raw JSON in the
// shape of webrtc.ICECandidateInit so this package stays transport-agnostic.
type SignalPayload struct {
	Type      string          `json:"type,omitempty"` // "offer" or "answer"
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Decode parses a raw control frame. A nil error only means the envelope was
// well-formed JSON; unknown kinds decode fine and are the dispatcher's
// problem.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeSignal parses the payload of a signal frame.
func DecodeSignal(raw json.RawMessage) (*SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NewRevision returns a pointer suitable for Message.Revision.
func NewRevision(rev int64) *int64 { return &rev }
