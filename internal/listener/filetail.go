package listener

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"drill/internal/metrics"
	"drill/pkg/logging"
)

// fileListener tails a destination file the system under test appends
// trigger lines to. The file may not exist yet at Start, may be removed and
// recreated, or may be rewritten from the top; the tail follows all of it
// and emits only complete lines.
type fileListener struct {
	dest    string
	events  chan Event
	metrics *metrics.Metrics

	strategy watchStrategy

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

func newFileListener(dest string, m *metrics.Metrics) *fileListener {
	return &fileListener{
		dest:     dest,
		events:   make(chan Event, eventBuffer),
		metrics:  m,
		strategy: newWatchStrategy(dest),
	}
}

func (l *fileListener) Events() <-chan Event {
	return l.events
}

// Start establishes the directory watch and begins tailing. The parent
// directory is created if missing; the file itself need not exist yet.
func (l *fileListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("listener for %s already stopped", l.dest)
	}
	if l.cancel != nil {
		l.mu.Unlock()
		return fmt.Errorf("listener for %s already started", l.dest)
	}
	l.mu.Unlock()

	dir := filepath.Dir(l.dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	changes, err := l.strategy.Start(ctx)
	if err != nil {
		if _, polling := l.strategy.(*pollStrategy); !polling {
			logging.Warn("Listener", "Filesystem notifications unavailable for %s, falling back to polling: %v", dir, err)
			l.strategy = newPollStrategy(l.dest, defaultPollInterval)
			changes, err = l.strategy.Start(ctx)
		}
		if err != nil {
			cancel()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx, changes)
	logging.Debug("Listener", "Tailing %s", l.dest)
	return nil
}

func (l *fileListener) run(ctx context.Context, changes <-chan fileChange) {
	defer l.wg.Done()
	tail := &tailState{dest: l.dest, events: l.events, metrics: l.metrics}
	defer tail.close()

	// Content written before the watch was established.
	tail.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.path != "" && filepath.Base(change.path) != filepath.Base(l.dest) {
				continue
			}
			switch change.op {
			case opRemove:
				// The next create reopens the new file from the top.
				tail.close()
			default:
				tail.drain(ctx)
			}
		}
	}
}

// Stop tears down the watch and preserves the consumed file for postmortem
// inspection by renaming it aside.
func (l *fileListener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := l.strategy.Stop(); err != nil {
		logging.Warn("Listener", "Failed to stop watch on %s: %v", l.dest, err)
	}
	l.wg.Wait()

	if _, err := os.Stat(l.dest); err != nil {
		if os.IsNotExist(err) {
			logging.Debug("Listener", "%s does not exist, nothing to back up", l.dest)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", l.dest, err)
	}
	backup := l.dest + ".bak"
	if err := os.Rename(l.dest, backup); err != nil {
		return fmt.Errorf("failed to back up %s: %w", l.dest, err)
	}
	logging.Debug("Listener", "Backed up %s to %s", l.dest, backup)
	return nil
}

// tailState is the open file, read offset, and trailing partial line. It is
// owned exclusively by the run goroutine.
type tailState struct {
	dest    string
	events  chan Event
	metrics *metrics.Metrics

	file      *os.File
	offset    int64
	remainder []byte
}

// drain reads everything from the current offset to EOF and emits the
// complete lines found. A rewrite that shrank the file restarts the tail
// from the top.
func (t *tailState) drain(ctx context.Context) {
	if t.file == nil {
		f, err := os.Open(t.dest)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Debug("Listener", "Cannot open %s: %v", t.dest, err)
			}
			return
		}
		t.file = f
		t.offset = 0
		t.remainder = nil
	}

	info, err := t.file.Stat()
	if err != nil {
		logging.Debug("Listener", "Cannot stat %s: %v", t.dest, err)
		t.close()
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.remainder = nil
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		logging.Debug("Listener", "Cannot seek %s: %v", t.dest, err)
		t.close()
		return
	}
	data, err := io.ReadAll(t.file)
	if err != nil {
		logging.Debug("Listener", "Cannot read %s: %v", t.dest, err)
		t.close()
		return
	}
	t.offset += int64(len(data))

	buf := append(t.remainder, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		buf = buf[idx+1:]
		event, ok := parseLine(line)
		if !ok {
			if len(line) > 0 {
				logging.Warn("Listener", "Dropping malformed line in %s: %q", t.dest, line)
				t.metrics.EventDropped()
			}
			continue
		}
		select {
		case t.events <- event:
		case <-ctx.Done():
			t.remainder = nil
			return
		}
	}
	if len(buf) > maxLineBytes {
		logging.Warn("Listener", "Dropping oversized partial line in %s (%d bytes)", t.dest, len(buf))
		t.metrics.EventDropped()
		buf = nil
	}
	t.remainder = buf
}

func (t *tailState) close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.offset = 0
	t.remainder = nil
}
