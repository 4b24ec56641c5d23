package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const flushTimeout = time.Second

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// signalConn is the client end of the SFU signaling websocket.
type signalConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{} // closed when writePump returns

	mu     sync.RWMutex
	closed bool
}

func newSignalConn(conn *websocket.Conn, readLimit int64) *signalConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &signalConn{conn: conn, send: make(chan []byte, 32), done: make(chan struct{})}
}

func (c *signalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *signalConn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

// Close stops accepting frames, lets writePump flush what is queued and
// closes the socket.
func (c *signalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(flushTimeout):
	}
	_ = c.conn.Close()
}

// writePump drains the send queue and pings at the given period.
func (c *signalConn) writePump(ctx context.Context, ping time.Duration) {
	defer close(c.done)
	var tick <-chan time.Time
	if ping > 0 {
		t := time.NewTicker(ping)
		defer t.Stop()
		tick = t.C
	}
	pingFrame, _ := json.Marshal(envelope{Type: "ping"})

	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case <-tick:
			data = pingFrame
		case b, ok := <-c.send:
			if !ok {
				return
			}
			data = b
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "adapters.rtc").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "adapters.rtc").Msg("writePump write error")
			return
		}
	}
}

// readPump hands every frame to handle until the socket fails; onExit gets
// the read error.
func (c *signalConn) readPump(ctx context.Context, handle func([]byte), onExit func(error)) {
	var exitErr error
	defer func() {
		c.Close()
		onExit(exitErr)
	}()
	for {
		select {
		case <-ctx.Done():
			exitErr = ctx.Err()
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			exitErr = err
			return
		}
		handle(data)
	}
}
