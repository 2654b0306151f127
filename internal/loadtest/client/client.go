// Package client is a WebSocket client for driving the gateway under load.
// It binds to a user id, waits for session_created and exposes the text
// frames the bot delivers as a stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/pairbot/internal/protocol"
)

// ErrClosed is returned once the connection has gone away.
var ErrClosed = errors.New("client: connection closed")

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Dropped          int // text frames discarded because nobody was reading
	RateLimited      int
	Errors           int
}

// Client is one simulated user.
type Client struct {
	conn   net.Conn
	userID int64

	writeMu sync.Mutex

	mu      sync.Mutex
	metrics Metrics

	texts     chan string
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway at url as userID, presenting token as the
// bearer credential. The token must have been issued for userID.
func Dial(ctx context.Context, url, token string, userID int64) (*Client, error) {
	start := time.Now()
	d := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{
		"Authorization": []string{"Bearer " + token},
	})}
	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial user=%d: %w", userID, err)
	}
	if br != nil {
		// session_created may already sit in the handshake buffer.
		conn = bufferedConn{Conn: conn, r: br}
	}
	c := newClient(conn, userID)
	c.metrics.ConnectLatency = time.Since(start)
	return c, nil
}

// bufferedConn drains bytes read past the handshake before the socket.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func newClient(conn net.Conn, userID int64) *Client {
	c := &Client{
		conn:   conn,
		userID: userID,
		texts:  make(chan string, 64),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// UserID returns the id this client connected as.
func (c *Client) UserID() int64 { return c.userID }

// WaitReady blocks until the gateway confirms the session.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start sends a start frame.
func (c *Client) Start() error {
	return c.send(protocol.StartMsg{Type: protocol.TypeStart})
}

// SendText sends text as if the user typed it.
func (c *Client) SendText(text string) error {
	return c.send(protocol.ChatMsg{Type: protocol.TypeMessage, Text: text})
}

// Ping sends a keepalive.
func (c *Client) Ping() error {
	return c.send(protocol.PingMsg{Type: protocol.TypePing})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// Next returns the next text delivered to this user.
func (c *Client) Next(ctx context.Context) (string, error) {
	select {
	case t := <-c.texts:
		return t, nil
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WaitFor discards texts until match accepts one and returns it.
func (c *Client) WaitFor(ctx context.Context, match func(string) bool) (string, error) {
	for {
		t, err := c.Next(ctx)
		if err != nil {
			return "", err
		}
		if match(t) {
			return t, nil
		}
	}
}

// Metrics returns a copy of the client's counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Closed is closed when the read loop exits.
func (c *Client) Closed() <-chan struct{} { return c.done }

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.count(func(m *Metrics) { m.Errors++ })
			}
			return
		}
		c.count(func(m *Metrics) { m.MessagesReceived++ })

		var frame struct {
			Type   string `json:"type"`
			Text   string `json:"text"`
			UserID int64  `json:"user_id"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			c.count(func(m *Metrics) { m.Errors++ })
			continue
		}

		switch frame.Type {
		case protocol.TypeSessionCreated:
			c.readyOnce.Do(func() { close(c.ready) })
		case protocol.TypeMessage:
			select {
			case c.texts <- frame.Text:
			default:
				c.count(func(m *Metrics) { m.Dropped++ })
			}
		case protocol.TypeRateLimited:
			c.count(func(m *Metrics) { m.RateLimited++ })
		case protocol.TypeError:
			c.count(func(m *Metrics) { m.Errors++ })
		}
	}
}

func (c *Client) count(f func(*Metrics)) {
	c.mu.Lock()
	f(&c.metrics)
	c.mu.Unlock()
}
