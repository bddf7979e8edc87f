package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"drill/internal/metrics"
	"drill/pkg/logging"
)

// socketListener serves a Unix domain socket and fans client lines into a
// single event channel. Containers connect, write newline-delimited trigger
// lines, and may disconnect and reconnect freely for the lifetime of the
// state.
type socketListener struct {
	dest    string
	events  chan Event
	metrics *metrics.Metrics

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	cancel  context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

func newSocketListener(dest string, m *metrics.Metrics) *socketListener {
	return &socketListener{
		dest:    dest,
		events:  make(chan Event, eventBuffer),
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

func (l *socketListener) Events() <-chan Event {
	return l.events
}

// Start binds the socket. Any filesystem entry already at the destination is
// removed first: a stale socket from an aborted run, or an empty directory a
// container runtime created while mounting the path before the harness was
// up.
func (l *socketListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("listener for %s already stopped", l.dest)
	}
	if l.ln != nil {
		l.mu.Unlock()
		return fmt.Errorf("listener for %s already started", l.dest)
	}
	l.mu.Unlock()

	if info, err := os.Lstat(l.dest); err == nil {
		kind := "socket"
		if info.IsDir() {
			kind = "directory"
		}
		logging.Debug("Listener", "Removing stale %s at %s", kind, l.dest)
		if err := os.Remove(l.dest); err != nil {
			return fmt.Errorf("failed to remove stale %s %s: %w", kind, l.dest, err)
		}
	}

	ln, err := net.Listen("unix", l.dest)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.dest, err)
	}
	// Containers run as arbitrary users; the socket must be writable by all
	// of them.
	if err := os.Chmod(l.dest, 0o777); err != nil {
		ln.Close()
		return fmt.Errorf("failed to set permissions on %s: %w", l.dest, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.ln = ln
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ctx)
	logging.Debug("Listener", "Listening on %s", l.dest)
	return nil
}

func (l *socketListener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				logging.Error("Listener", err, "Accept failed on %s", l.dest)
			}
			return
		}

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

func (l *socketListener) handleConnection(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		logging.Debug("Listener", "Client disconnected from %s", l.dest)
	}()
	logging.Debug("Listener", "Client connected on %s", l.dest)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		event, ok := parseLine(scanner.Text())
		if !ok {
			logging.Warn("Listener", "Dropping malformed line on %s: %q", l.dest, scanner.Text())
			l.metrics.EventDropped()
			continue
		}
		select {
		case l.events <- event:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		logging.Debug("Listener", "Connection on %s closed: %v", l.dest, err)
	}
}

// Stop closes the socket and all live connections, waits for the reader
// goroutines, and unlinks the destination.
func (l *socketListener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	ln := l.ln
	cancel := l.cancel
	conns := make([]net.Conn, 0, len(l.conns))
	for conn := range l.conns {
		conns = append(conns, conn)
	}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	l.wg.Wait()

	// Closing the listener normally unlinks the path already.
	if err := os.Remove(l.dest); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", l.dest, err)
		}
	} else {
		logging.Debug("Listener", "Removed %s", l.dest)
	}
	return nil
}
