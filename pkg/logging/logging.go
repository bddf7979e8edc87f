package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	fileLogger    *slog.Logger
	filterText    string
)

// InitForCLI initializes the logging system for CLI use.
// This should be called once at application startup.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{
		Level: filterLevel.SlogLevel(),
	}

	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(slog.NewTextHandler(output, opts))
	slog.SetDefault(defaultLogger)
}

// InitFileCopy directs a copy of every record, regardless of the console
// level, to the given writer. Used for the --output run log.
func InitFileCopy(output io.Writer) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	mu.Lock()
	defer mu.Unlock()
	fileLogger = slog.New(slog.NewTextHandler(output, opts))
}

// SetFilter suppresses console records whose subsystem and message both lack
// the given substring. The file copy is unaffected. An empty string clears
// the filter.
func SetFilter(filter string) {
	mu.Lock()
	defer mu.Unlock()
	filterText = filter
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	console := defaultLogger
	file := fileLogger
	filter := filterText
	mu.RUnlock()

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var slogAttrs []slog.Attr
	slogAttrs = append(slogAttrs, slog.String("subsystem", subsystem))
	if err != nil {
		slogAttrs = append(slogAttrs, slog.String("error", err.Error()))
	}

	if file != nil {
		file.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)
	}

	if console == nil || !console.Enabled(context.Background(), level.SlogLevel()) {
		return
	}
	if filter != "" && !strings.Contains(subsystem, filter) && !strings.Contains(msg, filter) {
		return
	}

	console.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// OpenRunLog opens (creating or truncating) the file that receives the full
// record copy and wires it in. The caller owns the returned closer.
func OpenRunLog(path string) (io.Closer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}
	InitFileCopy(f)
	Info("Logging", "Run log started at %s", time.Now().Format(time.RFC3339))
	return f, nil
}
