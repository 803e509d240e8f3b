package session

import (
	"time"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

// listTimeout bounds the diagnostic room enumeration.
const listTimeout = 5 * time.Second

// ListRooms enumerates the server's rooms over a short-lived connection that
// never joins one.
func ListRooms(cfg *config.Config) ([]protocol.RoomInfo, error) {
	cc, err := dialControl(cfg.SignalURL)
	if err != nil {
		return nil, err
	}
	defer cc.close()

	if err := cc.send(&protocol.Message{Kind: protocol.KindList}); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(listTimeout)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-cc.incoming:
			if !ok {
				return nil, ErrNotConnected
			}
			if msg.Kind == protocol.KindRooms {
				return msg.Rooms, nil
			}
			// Anything else on a bare diagnostic connection is
			// noise; keep waiting.
		case <-deadline.C:
			return nil, ErrTimeout
		}
	}
}
