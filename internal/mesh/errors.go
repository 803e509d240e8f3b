package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrTimeout          = errors.New("negotiation timeout")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrClosed           = errors.New("manager closed")
)

// MeshError wraps a failure with the operation and peer it concerns.
type MeshError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *MeshError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *MeshError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *MeshError {
	return &MeshError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *MeshError {
	return &MeshError{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *MeshError {
	return &MeshError{Op: op, Err: err, Details: details}
}
