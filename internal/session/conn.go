package session

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JustSadSock/realtime-canvas/internal/dns"
	"github.com/JustSadSock/realtime-canvas/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

// controlConn is one underlying websocket incarnation of the control
// connection. A session goes through any number of these across reconnects.
type controlConn struct {
	conn     *websocket.Conn
	outgoing chan []byte
	incoming chan *protocol.Message
	done     chan struct{}

	// backlog counts bytes queued on the outgoing path and not yet
	// written; the ephemeral send path reads it for backpressure.
	backlog atomic.Int64

	closeOnce sync.Once
}

// dialControl opens the websocket and starts both pumps. The dialer resolves
// the host through the fallback-capable resolver.
func dialControl(rawURL string) (*controlConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolved, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolved, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	cc := &controlConn{
		conn:     conn,
		outgoing: make(chan []byte, sendQueueSize),
		incoming: make(chan *protocol.Message, 32),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go cc.readPump()
	go cc.writePump()

	return cc, nil
}

// send queues one frame. It never blocks: when the queue is full the frame
// is refused, which the delivery layer treats as the fallback path being
// unavailable.
func (c *controlConn) send(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	select {
	case c.outgoing <- data:
		c.backlog.Add(int64(len(data)))
		return nil
	default:
		return ErrBacklogFull
	}
}

// readPump delivers decoded frames on incoming until the connection dies,
// then closes incoming. Malformed frames are dropped silently.
func (c *controlConn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *controlConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, data)
			c.backlog.Add(-int64(len(data)))
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// close tears the incarnation down. Safe to call from any goroutine, any
// number of times.
func (c *controlConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
