package listener

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"drill/pkg/logging"
)

// defaultPollInterval is the stat cadence of the polling fallback.
const defaultPollInterval = 200 * time.Millisecond

type changeOp int

const (
	opCreate changeOp = iota
	opWrite
	opRemove
)

// fileChange is one observed mutation of the watched destination. An empty
// path means the strategy already filtered to the destination file.
type fileChange struct {
	path string
	op   changeOp
}

// watchStrategy abstracts how destination changes are observed. fsnotify is
// preferred; polling covers filesystems without reliable notifications.
type watchStrategy interface {
	Start(ctx context.Context) (<-chan fileChange, error)
	Stop() error
}

func newWatchStrategy(dest string) watchStrategy {
	return &fsnotifyStrategy{dest: dest}
}

// fsnotifyStrategy watches the destination's parent directory so creation
// and removal of the file itself are visible.
type fsnotifyStrategy struct {
	dest string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

func (s *fsnotifyStrategy) Start(ctx context.Context) (<-chan fileChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(s.dest)); err != nil {
		watcher.Close()
		return nil, err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	changes := make(chan fileChange, 64)
	go s.processEvents(ctx, watcher, changes)
	return changes, nil
}

func (s *fsnotifyStrategy) processEvents(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- fileChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			var op changeOp
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				op = opCreate
			case event.Op&fsnotify.Write == fsnotify.Write:
				op = opWrite
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				op = opRemove
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				op = opRemove
			default:
				continue
			}
			select {
			case changes <- fileChange{path: event.Name, op: op}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Listener", err, "Watch error on %s", s.dest)
		}
	}
}

func (s *fsnotifyStrategy) Stop() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// pollStrategy synthesizes change events from periodic stats of the
// destination file.
type pollStrategy struct {
	dest     string
	interval time.Duration
}

func newPollStrategy(dest string, interval time.Duration) *pollStrategy {
	return &pollStrategy{dest: dest, interval: interval}
}

func (s *pollStrategy) Start(ctx context.Context) (<-chan fileChange, error) {
	changes := make(chan fileChange, 64)
	go s.loop(ctx, changes)
	return changes, nil
}

func (s *pollStrategy) loop(ctx context.Context, changes chan<- fileChange) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		exists  bool
		size    int64
		modTime time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.dest)
			switch {
			case err != nil:
				if exists {
					exists = false
					if !emit(ctx, changes, fileChange{op: opRemove}) {
						return
					}
				}
			case !exists:
				exists = true
				size = info.Size()
				modTime = info.ModTime()
				if !emit(ctx, changes, fileChange{op: opCreate}) {
					return
				}
			case info.Size() != size || !info.ModTime().Equal(modTime):
				size = info.Size()
				modTime = info.ModTime()
				if !emit(ctx, changes, fileChange{op: opWrite}) {
					return
				}
			}
		}
	}
}

func emit(ctx context.Context, changes chan<- fileChange, change fileChange) bool {
	select {
	case changes <- change:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *pollStrategy) Stop() error {
	return nil
}
