package mesh

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Channel labels. The reliable channel is ordered with guaranteed delivery;
// the ephemeral channel trades both away for latency.
const (
	labelReliable  = "reliable"
	labelEphemeral = "ephemeral"
)

// linkState is the lifecycle of one Connection Record.
type linkState int

const (
	stateNew linkState = iota
	stateNegotiating
	stateOpen
	stateClosing
	stateClosed
)

func (s linkState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateNegotiating:
		return "negotiating"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// dataChannel is the subset of *webrtc.DataChannel the delivery path needs;
// tests substitute fakes.
type dataChannel interface {
	Send(data []byte) error
	BufferedAmount() uint64
	Close() error
}

// link is the Connection Record for one remote participant. At most one link
// exists per remote id (the manager's table enforces this); a superseded or
// failed link is purged entirely before a replacement may be created.
//
// All mutable fields are guarded by the manager's mutex. The context is
// cancelled on purge so any in-flight negotiation step can bail out.
type link struct {
	id        string
	initiator bool
	state     linkState

	pc        *webrtc.PeerConnection
	reliable  dataChannel
	ephemeral dataChannel

	relOpen bool
	ephOpen bool

	// Candidates that arrived before the remote description; pion requires
	// the description to be applied first.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	ctx    context.Context
	cancel context.CancelFunc
}

func (l *link) open() bool {
	return l.state == stateOpen
}

// channelsReady reports whether both logical channels are up. The single
// peer-ready notification fires at that moment, not per channel.
func (l *link) channelsReady() bool {
	return l.relOpen && l.ephOpen
}
