// Package websocket carries ports over WebSocket connections.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"yakkl-background/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
	maxInFlight    = 16
)

// Conn is the subset of *websocket.Conn the client uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// MessageHandler processes one inbound frame
type MessageHandler func(ctx context.Context, data []byte)

// Client is a port backed by a WebSocket connection. Outbound messages are
// queued on a bounded buffer drained by WritePump.
type Client struct {
	conn Conn
	send chan []byte
	done chan struct{}
	info domain.PortInfo
	kind domain.PortKind
	key  string

	writeMu    sync.Mutex
	closed     atomic.Bool
	connClosed atomic.Bool
	ctx        context.Context
	ctxCancel  context.CancelFunc
}

func NewClient(ctx context.Context, conn Conn, kind domain.PortKind, key string, info domain.PortInfo) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		info:      info,
		kind:      kind,
		key:       key,
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// Send implements domain.Port. It never blocks: a full buffer is reported as
// ErrSendBufferFull.
func (c *Client) Send(v any) error {
	if c.closed.Load() {
		return domain.ErrPortClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode port message: %w", err)
	}

	select {
	case <-c.done:
		return domain.ErrPortClosed
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Close implements domain.Port. WritePump sends the close frame.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.ctxCancel()
		close(c.done)
	}
	return nil
}

func (c *Client) Info() domain.PortInfo {
	return c.info
}

func (c *Client) Kind() domain.PortKind {
	return c.kind
}

func (c *Client) Key() string {
	return c.key
}

// ReadPump reads frames until the connection fails, handing each to handle
// on its own goroutine. onClose runs once every handler has returned.
func (c *Client) ReadPump(handle MessageHandler, onClose func()) {
	var wg sync.WaitGroup
	slots := make(chan struct{}, maxInFlight)

	defer func() {
		c.Close()
		c.closeConnection()
		wg.Wait()
		if onClose != nil {
			onClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("kind", string(c.kind)),
			slog.String("key", c.key))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("kind", string(c.kind)),
					slog.String("key", c.key))
			}
			return
		}

		select {
		case slots <- struct{}{}:
		case <-c.ctx.Done():
			return
		}

		wg.Add(1)
		go func(data []byte) {
			defer func() {
				<-slots
				wg.Done()
			}()
			handle(c.ctx, data)
		}(message)
	}
}

// WritePump drains the send buffer to the connection and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			_ = c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.connClosed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("kind", string(c.kind)),
			slog.String("key", c.key))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.connClosed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
