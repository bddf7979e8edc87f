// Package metrics exposes run counters over Prometheus. A nil *Metrics
// disables collection entirely, so call sites increment unconditionally.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drill/pkg/logging"
)

const namespace = "drill"

// Metrics holds the counters for one run on a private registry, keeping
// repeated runs inside one process from colliding.
type Metrics struct {
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
	addr   string

	eventsReceived    prometheus.Counter
	eventsDropped     prometheus.Counter
	validationsPassed prometheus.Counter
	validationsFailed prometheus.Counter
	statesCompleted   prometheus.Counter
	statesTimedOut    prometheus.Counter
	testsPassed       prometheus.Counter
	testsFailed       prometheus.Counter
}

// New builds a Metrics with every counter registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "events_received_total",
			Help:      "Events delivered by listeners to validation.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "events_dropped_total",
			Help:      "Malformed lines dropped before validation.",
		}),
		validationsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "validations_passed_total",
			Help:      "Events that matched a configured rule.",
		}),
		validationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "validations_failed_total",
			Help:      "Events that matched no configured rule.",
		}),
		statesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "states_completed_total",
			Help:      "States that satisfied all of their rules.",
		}),
		statesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "states_timed_out_total",
			Help:      "States that hit their deadline with rules unmatched.",
		}),
		testsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "tests_passed_total",
			Help:      "Tests whose states all completed.",
		}),
		testsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "tests_failed_total",
			Help:      "Tests that stopped on a timed out or failed state.",
		}),
	}

	m.registry.MustRegister(
		m.eventsReceived,
		m.eventsDropped,
		m.validationsPassed,
		m.validationsFailed,
		m.statesCompleted,
		m.statesTimedOut,
		m.testsPassed,
		m.testsFailed,
	)
	return m
}

// Serve exposes /metrics and /health on addr until Close. The listen happens
// synchronously so a bad address fails the run up front.
func (m *Metrics) Serve(addr string) error {
	if m == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{Handler: mux}
	m.mu.Lock()
	m.server = server
	m.addr = ln.Addr().String()
	m.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics", err, "Metrics server stopped")
		}
	}()

	logging.Info("Metrics", "Serving metrics on http://%s/metrics", ln.Addr())
	return nil
}

// Addr returns the bound address once Serve has succeeded.
func (m *Metrics) Addr() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Close stops the metrics server if one is running.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	err := m.server.Close()
	m.server = nil
	return err
}

// EventReceived counts one event handed to a validator.
func (m *Metrics) EventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

// EventDropped counts one malformed line a listener discarded.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// ValidationResult counts one validated event by whether a rule matched.
func (m *Metrics) ValidationResult(matched bool) {
	if m == nil {
		return
	}
	if matched {
		m.validationsPassed.Inc()
	} else {
		m.validationsFailed.Inc()
	}
}

// StateCompleted counts one state that satisfied its rules.
func (m *Metrics) StateCompleted() {
	if m == nil {
		return
	}
	m.statesCompleted.Inc()
}

// StateTimedOut counts one state that hit its deadline.
func (m *Metrics) StateTimedOut() {
	if m == nil {
		return
	}
	m.statesTimedOut.Inc()
}

// TestResult counts one finished test by outcome.
func (m *Metrics) TestResult(passed bool) {
	if m == nil {
		return
	}
	if passed {
		m.testsPassed.Inc()
	} else {
		m.testsFailed.Inc()
	}
}
