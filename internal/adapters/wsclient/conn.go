// Package wsclient is the client end of the relay channel.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	writeWait      = 5 * time.Second
	defaultBuffer  = 32
	maxMessageSize = 64 * 1024
)

// Conn implements core.SignalConnection over a gorilla websocket. Writes go
// through a buffered queue drained by a single write pump.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, buffer int) (*Conn, error) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)
	log.Info().Str("module", "wsclient").Str("url", url).Msg("connected to relay")
	return &Conn{conn: ws, send: make(chan core.Frame, buffer)}, nil
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Run pumps frames until the relay goes away or ctx is done. Inbound
// messages are handed to deliver in arrival order.
func (c *Conn) Run(ctx context.Context, deliver func(protocol.Message)) error {
	var wg conc.WaitGroup
	wg.Go(func() { c.writePump(ctx) })

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	err := c.readPump(deliver)
	c.Close()
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "wsclient").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "wsclient").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump(deliver func(protocol.Message)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("relay read: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame from relay")
			continue
		}
		deliver(msg)
	}
}
