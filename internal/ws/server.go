// Package ws is the WebSocket gateway. It upgrades HTTP connections, binds
// each socket to a user, forwards client frames to the bot as inbound events
// and writes the bot's deliveries back to the right socket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/ratelimit"
)

// ErrNotConnected is returned for deliveries to a user with no socket here.
var ErrNotConnected = errors.New("ws: user not connected")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Bus carries events to the bot and deliveries back. *messaging.NATSClient
// implements it.
type Bus interface {
	Publisher
	SubscribeDelivery(userID int64, handler func(protocol.Delivery) error) error
	UnsubscribeDelivery(userID int64) error
}

// Presence records which users are online. *session.Store implements it.
type Presence interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
}

// Authenticator turns a connection token into the user id it was issued
// for. *auth.Signer implements it.
type Authenticator interface {
	Verify(token string) (int64, error)
}

// Deps are the server's collaborators. Presence and Limiter may be nil.
// Without Auth every upgrade is refused.
type Deps struct {
	Bus      Bus
	Auth     Authenticator
	Presence Presence
	Limiter  Limiter
}

// Server is the WebSocket gateway built on gobwas/ws and Linux epoll. Ready
// connections are read by a bounded worker pool.
type Server struct {
	config     ServerConfig
	deps       Deps
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{}
	onMessage  func(conn *Connection, data []byte)
	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
	startedAt  time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine for
// every complete text frame.
func NewServer(config ServerConfig, deps Deps, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		deps:       deps,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start creates the epoll instance, starts the event loop and heartbeat, and
// blocks serving HTTP.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	log.Printf("[gateway] listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server: %w", err)
	}
	return nil
}

// handleUpgrade binds a new socket to the user named by a signed token, from
// the token query parameter or an "Authorization: Bearer" header. A user's
// previous socket on this gateway is closed without a disconnect event, but
// only after the new socket has proved the same identity.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if s.deps.Limiter != nil {
		if allowed, _ := s.deps.Limiter.Allow(r.Context(), ip, ratelimit.RuleConnect); !allowed {
			retry := s.deps.Limiter.RetryAfter(r.Context(), ip, ratelimit.RuleConnect)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
			http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
			return
		}
	}

	if s.deps.Auth == nil {
		http.Error(w, "authentication unavailable", http.StatusUnauthorized)
		return
	}
	userID, err := s.deps.Auth.Verify(bearerToken(r))
	if err != nil {
		log.Printf("[gateway] rejected upgrade from %s: %v", ip, err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.NewString(),
		UserID:    userID,
		IP:        ip,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	if prev := s.conns.Add(c); prev != nil {
		log.Printf("[gateway] user=%d reconnected, closing conn=%s", userID, prev.ID)
		_ = s.epoll.Remove(prev.Conn)
		prev.Close()
	}
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("[gateway] epoll add user=%d: %v", userID, err)
		s.conns.Remove(c)
		return
	}
	if err := s.deps.Bus.SubscribeDelivery(userID, s.deliverer(userID)); err != nil {
		log.Printf("[gateway] subscribe deliveries user=%d: %v", userID, err)
		_ = s.epoll.Remove(conn)
		s.conns.Remove(c)
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.deps.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.deps.Presence.MarkOnline(ctx, userID); err != nil {
			log.Printf("[gateway] mark online user=%d: %v", userID, err)
		}
		cancel()
	}

	frame, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{UserID: userID})
	if err == nil {
		err = c.WriteMessage(frame)
	}
	if err != nil {
		log.Printf("[gateway] session_created user=%d: %v", userID, err)
	}

	log.Printf("[gateway] user=%d connected conn=%s fd=%d (total=%d)", userID, c.ID, c.Fd, s.conns.Count())
}

// deliverer writes bot deliveries to whichever socket userID currently holds.
func (s *Server) deliverer(userID int64) func(protocol.Delivery) error {
	return func(d protocol.Delivery) error {
		frame, err := d.Frame()
		if err != nil {
			return err
		}
		return s.SendMessage(userID, frame)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				log.Printf("[gateway] epoll wait: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				s.epoll.Done(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// handled without blocking on a data frame that may never arrive; any read
// failure other than a timeout drops the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// No data within the timeout; the heartbeat handles dead peers.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.LastPing = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection drops c. If c was still the user's current socket, the
// delivery subscription is cancelled, the user is marked offline and a
// disconnect event is published.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !s.conns.Remove(c) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if err := s.deps.Bus.UnsubscribeDelivery(c.UserID); err != nil {
		log.Printf("[gateway] unsubscribe deliveries user=%d: %v", c.UserID, err)
	}
	if err := s.deps.Bus.PublishInbound(protocol.NewInboundEvent(c.UserID, protocol.KindDisconnect, "")); err != nil {
		log.Printf("[gateway] publish disconnect user=%d: %v", c.UserID, err)
	}
	if s.deps.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.deps.Presence.MarkOffline(ctx, c.UserID); err != nil {
			log.Printf("[gateway] mark offline user=%d: %v", c.UserID, err)
		}
		cancel()
	}

	log.Printf("[gateway] user=%d disconnected conn=%s (total=%d)", c.UserID, c.ID, s.conns.Count())
}

// SendMessage writes a text frame to userID's socket.
func (s *Server) SendMessage(userID int64, data []byte) error {
	c := s.conns.Get(userID)
	if c == nil {
		return ErrNotConnected
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and the event loop and closes every
// connection. Users are not reported as disconnected: their sessions are
// expected to resume on another gateway.
func (s *Server) Shutdown() error {
	log.Println("[gateway] shutting down...")
	s.closeOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[gateway] http shutdown: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		if s.epoll != nil {
			_ = s.epoll.Remove(c.Conn)
		}
		if s.deps.Presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.deps.Presence.MarkOffline(ctx, c.UserID)
			cancel()
		}
		s.conns.Remove(c)
	}
	metrics.ConnectionsTotal.Set(0)

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("[gateway] stopped")
	return nil
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// clientIP prefers the first X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR reports an interrupted system call, expected during signal handling.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
