package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// A connection that stays silent this long is forcibly closed.
	pongWait = 20 * time.Second

	// Transport-level ping interval. Must be less than pongWait.
	pingPeriod = 10 * time.Second

	// Maximum control frame size. Snapshots ride the control channel, so
	// this is far larger than a negotiation payload needs.
	maxMessageSize = 1 << 20
)

// Client wraps a single websocket connection. The hub owns its membership
// state; the two pumps own the socket.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn

	// ID is assigned by the hub during registration and never reused while
	// the connection lives.
	ID string

	// RoomKey is the room the client joined, empty until then. Only the
	// hub goroutine reads or writes it.
	RoomKey string

	// Send is the outbound queue drained by WritePump. The hub closes it
	// on unregister.
	Send chan *protocol.Message
}

// enqueue queues msg without ever blocking the hub loop. A client whose queue
// is full is stalled or gone; dropping is safe because the transport-level
// keep-alive will reap it.
func (c *Client) enqueue(msg *protocol.Message) {
	select {
	case c.Send <- msg:
	default:
		slog.Debug("dropping frame for stalled client", "id", c.ID, "kind", msg.Kind)
	}
}

// ReadPump pumps frames from the websocket to the hub. It runs in its own
// goroutine; all reads on the connection happen here.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
			// Hub already shut down; nobody is draining Unregister.
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "id", c.ID, "err", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays up.
			slog.Debug("dropping malformed frame", "id", c.ID, "err", err)
			continue
		}

		select {
		case c.Hub.Inbound <- inbound{from: c, msg: msg}:
		case <-c.Hub.done:
			return
		}
	}
}

// WritePump pumps frames from the Send queue to the websocket and keeps the
// connection alive with transport-level pings. It runs in its own goroutine;
// all writes on the connection happen here.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub unregistered us.
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
