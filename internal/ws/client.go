package ws

import (
	"context"
	"sync"
	"time"

	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client - одно websocket соединение
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	gateway   *Gateway
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, gw *Gateway) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		gateway: gw,
		done:    make(chan struct{}),
	}
}

// enqueue не блокирует: при переполненном буфере сообщение теряется
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		metrics.DroppedMessages.Inc()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run блокирует до закрытия соединения
func (c *Client) Run() {
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	go c.writePump()
	c.readPump()
}

// read
func (c *Client) readPump() {
	log := logger.With("conn_id", c.ID)
	ctx := logger.IntoContext(context.Background(), log)
	defer func() {
		c.close()
		c.gateway.Disconnected(ctx, c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read failed", "error", err)
			}
			return
		}
		c.gateway.Dispatch(ctx, c, msg)
	}
}

// write
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("ws write failed", "conn_id", c.ID, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
