package session

import "errors"

var (
	ErrNotConnected   = errors.New("not connected")
	ErrManuallyClosed = errors.New("session manually closed")
	ErrBacklogFull    = errors.New("control connection backlog full")
	ErrTimeout        = errors.New("timeout")
)
