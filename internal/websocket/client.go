package websocket

import (
	"context"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize   = 64
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
	defaultReconnect = 3 * time.Second
)

// Client is one desk following the event feed.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	// DeskID is the X-Client-ID the desk sent with the upgrade; Staff is the
	// signed-in operator. Both are only used for logging.
	DeskID string
	Staff  string
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and writes queued events until the desk goes away
// or ctx ends. Desks never send on the feed, so any data frame from them
// closes the connection.
func (c *Client) Run(ctx context.Context, logger *slog.Logger) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	logger = logger.With("desk", c.DeskID, "staff", c.Staff)
	logger.Info("desk connected", "clients", c.hub.ClientCount())

	ctx = c.conn.CloseRead(ctx)
	sent, err := c.writeLoop(ctx)
	logger.Info("desk disconnected", "events_sent", sent, "reason", err)
}

func (c *Client) writeLoop(ctx context.Context) (sent int, err error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return sent, nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, msg)
			cancel()
			if err != nil {
				return sent, err
			}
			sent++
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return sent, err
			}
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}
