//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is the non-Linux fallback. Each registered connection is reported
// ready, then not again until the server calls Done for it, so the server's
// read (bounded by its read timeout) does the waiting. Nothing is read from
// the socket here.
type Epoll struct {
	mu      sync.Mutex
	idle    map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewEpoll creates a fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		idle:    make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers conn and starts reporting it.
func (e *Epoll) Add(conn net.Conn) error {
	idle := make(chan struct{}, 1)

	e.mu.Lock()
	e.idle[conn] = idle
	e.mu.Unlock()

	go e.monitor(conn, idle)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, idle chan struct{}) {
	for {
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}

		select {
		case _, ok := <-idle:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Done marks conn as no longer being read so it is reported again.
func (e *Epoll) Done(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idle, ok := e.idle[conn]; ok {
		select {
		case idle <- struct{}{}:
		default:
		}
	}
}

// Remove unregisters a connection.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idle, ok := e.idle[conn]; ok {
		delete(e.idle, conn)
		close(idle)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.idle = make(map[net.Conn]chan struct{})
	e.mu.Unlock()
	return nil
}

// socketFD is unavailable without epoll.
func socketFD(net.Conn) int {
	return -1
}
