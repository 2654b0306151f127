//go:build linux

package ws

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// readyEvents is the set a socket is watched for. Peer hang-ups are reported
// as readiness so the following read observes the close.
const readyEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP

// Epoll reports which gateway sockets have a frame waiting, so one reader
// goroutine per ready socket replaces one parked goroutine per connection.
type Epoll struct {
	epfd int

	mu   sync.RWMutex
	byFD map[int]net.Conn

	buf []unix.EpollEvent // owned by the single Wait caller
}

// NewEpoll opens an epoll instance.
func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		epfd: epfd,
		byFD: make(map[int]net.Conn),
		buf:  make([]unix.EpollEvent, 128),
	}, nil
}

// Add starts watching conn.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errNoSocket
	}
	ev := unix.EpollEvent{Events: readyEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFD[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove stops watching conn. The bookkeeping entry is dropped even when the
// kernel has already forgotten a closed descriptor.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errNoSocket
	}

	e.mu.Lock()
	delete(e.byFD, fd)
	e.mu.Unlock()

	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one watched socket is readable. Interrupted
// waits are retried. Sockets removed after the kernel reported them are
// left out.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var (
		n   int
		err error
	)
	for {
		n, err = unix.EpollWait(e.epfd, e.buf, -1)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	ready := make([]net.Conn, 0, n)
	e.mu.RLock()
	for _, ev := range e.buf[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Done is a no-op: level-triggered epoll reports a socket again while it
// still has unread data.
func (e *Epoll) Done(net.Conn) {}

// Close releases the epoll descriptor. Registered sockets stay open.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFD = nil
	e.mu.Unlock()
	return unix.Close(e.epfd)
}

var errNoSocket = errors.New("ws: connection has no socket descriptor")

// socketFD returns conn's descriptor without dup'ing it, or -1 for
// connections that are not OS sockets (net.Pipe in tests).
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
