package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// WSClient streams remote-tree mutation events over a websocket.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events chan models.RemoteEvent
	done   chan struct{}

	pingInterval time.Duration
}

// NewWSClient creates a websocket client for the event stream.
func NewWSClient(wsURL, token string, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}
	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "ws_client"),
		events:       make(chan models.RemoteEvent, 100),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
	}
}

// Connect establishes the websocket connection and starts the read
// loop.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	c.logger.WithField("url", c.url).Info("Connecting to event stream")

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("event stream connect (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("event stream connect: %w", err)
	}

	c.conn = conn
	go c.readLoop()
	go c.pingLoop()
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

// Events returns the decoded event channel. It closes when the stream
// ends.
func (c *WSClient) Events() <-chan models.RemoteEvent {
	return c.events
}

func (c *WSClient) readLoop() {
	defer close(c.events)

	for {
		var ev models.RemoteEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.WithError(err).Warn("Event stream read failed")
			}
			return
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears down the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
