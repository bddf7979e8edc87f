// Package listener provides the event sources that feed a state's validator:
// a Unix socket accepting newline-delimited trigger lines from containers,
// and a file tail that follows a destination file through creation, rewrite,
// and removal.
package listener

import (
	"context"
	"strings"

	"drill/internal/metrics"
)

// Type selects the listener variant used for a test.
type Type int

const (
	// TypeSocket listens on a Unix domain socket.
	TypeSocket Type = iota
	// TypeFile tails a plain file written by the system under test.
	TypeFile
)

// Extension returns the destination filename extension for the type.
func (t Type) Extension() string {
	if t == TypeFile {
		return ".txt"
	}
	return ".sock"
}

// Event is one decoded trigger from the system under test.
type Event struct {
	Attribute string
	Value     string
}

// Listener is an event source owned by exactly one state.
//
// Start establishes the destination synchronously: a nil return means the
// listener is ready to receive (socket bound, watch established) and is the
// one-shot readiness signal; an error is a startup failure the owning state
// must surface instead of waiting on events that can never arrive. Stop is
// idempotent and releases the destination. The events channel is never
// closed; consumers leave via their context.
type Listener interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Stop() error
}

// New returns a listener of the given type for the destination path. The
// metrics handle may be nil.
func New(t Type, dest string, m *metrics.Metrics) Listener {
	if t == TypeFile {
		return newFileListener(dest, m)
	}
	return newSocketListener(dest, m)
}

const (
	// eventBuffer bounds in-flight events between producers and the
	// validator. Producers block (subject to cancellation) when full.
	eventBuffer = 1024

	// maxLineBytes caps a single trigger line.
	maxLineBytes = 1024 * 1024
)

// parseLine splits a wire line into an event. Framing is
// "<attribute><space><value>" with the split on the first space; the value
// may itself contain spaces. Lines without a space are malformed.
func parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	attribute, value, found := strings.Cut(line, " ")
	if !found || attribute == "" {
		return Event{}, false
	}
	return Event{Attribute: attribute, Value: value}, true
}
