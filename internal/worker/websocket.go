package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Signal is a message from the relay.
type Signal struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Command is a message to the relay.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

var errNotConnected = errors.New("not connected")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// WebSocketClient is one relay connection. Reads happen on a single
// goroutine; writes are serialized by writeMu.
type WebSocketClient struct {
	url    string
	token  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWebSocketClient(serverURL, token string, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		url:    serverURL,
		token:  token,
		logger: logger,
	}
}

// Connect dials the relay, presenting the token as a bearer credential.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Connecting to WebSocket", slog.String("url", u.Redacted()))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("WebSocket connected", slog.String("url", u.Redacted()))
	return nil
}

func (c *WebSocketClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// ReadSignal blocks until the next signal arrives or the connection closes.
func (c *WebSocketClient) ReadSignal() (*Signal, error) {
	conn := c.current()
	if conn == nil {
		return nil, errNotConnected
	}

	var signal Signal
	if err := conn.ReadJSON(&signal); err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}
	return &signal, nil
}

// WriteCommand sends cmd with a bounded write deadline.
func (c *WebSocketClient) WriteCommand(cmd *Command) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Ping sends a WebSocket ping control frame.
func (c *WebSocketClient) Ping() error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close closes the connection; it unblocks a pending ReadSignal.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.logger.Info("Closing WebSocket connection")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
