package net

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a closed channel or manager.
var ErrClosed = errors.New("net: closed")

// Channel is one established duplex connection carrying text frames.
type Channel interface {
	// Read blocks until the next message arrives or the channel fails.
	Read() ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	// Close ends the channel. A Write blocked at the time returns promptly.
	Close() error
}

// Dialer opens a channel for a canvas session.
type Dialer interface {
	Dial(ctx context.Context, canvasID, token string) (Channel, error)
}

// WSDialer dials the canvas server over a websocket.
type WSDialer struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// WebSocketURL turns an http(s) or ws(s) base into the session endpoint.
func WebSocketURL(base, canvasID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	case "":
		return "", fmt.Errorf("server url %q has no scheme", base)
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	q := u.Query()
	if canvasID != "" {
		q.Set("canvasId", canvasID)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPURL turns a ws(s) or http(s) base into its http(s) form.
func HTTPURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context, canvasID, token string) (Channel, error) {
	target, err := WebSocketURL(d.BaseURL, canvasID, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.BaseURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.BaseURL, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("websocket established", "component", "transport", "remote", conn.RemoteAddr().String())
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer. Close does not take mu so that
	// it can cut a stalled write short.
	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *wsChannel) Read() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsChannel) Write(ctx context.Context, msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close is safe to call while a Write is blocked; the write fails at once.
func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(100*time.Millisecond))
		err = c.conn.Close()
	})
	return err
}
