package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/app"
	"github.com/ghostpair/ghostpair/internal/core"
	"github.com/ghostpair/ghostpair/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const writeTimeout = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSConnection is a transport endpoint (WebSocket).
// It implements core.SignalConnection.
type WSConnection struct {
	id   domain.ConnID
	conn WSConn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

func NewWSConnection(id domain.ConnID, conn WSConn) *WSConnection {
	return &WSConnection{
		id:   id,
		conn: conn,
		send: make(chan core.Frame, 64),
		done: make(chan struct{}),
	}
}

func (c *WSConnection) ID() domain.ConnID { return c.id }

func (c *WSConnection) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSConnection) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// StartWriteLoop pumps queued frames to the network.
// Adapter owns transport resources and closes them on exit.
func (c *WSConnection) StartWriteLoop(ctx context.Context) {
	go func() {
		defer c.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case data := <-c.send:
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Warn().Err(err).Str("module", "adapters.ws").Str("id", string(c.id)).Msg("write failed")
					return
				}
			}
		}
	}()
}

// StartReadLoop feeds inbound frames to the broker. On exit the broker gets
// a disconnect event so any partner is released.
func (c *WSConnection) StartReadLoop(ctx context.Context, broker *app.Broker) {
	go func() {
		defer func() {
			c.Close()
			broker.Disconnected(c.id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_, data, err := c.conn.ReadMessage()
				if err != nil {
					log.Info().Err(err).Str("module", "adapters.ws").Str("id", string(c.id)).Msg("read loop closing")
					return
				}
				broker.HandleFrame(c.id, core.Frame(data))
			}
		}
	}()
}
