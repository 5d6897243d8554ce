// Package telemetry defines the event sink consumed by the fetch engine
// and ships ready-made sinks for logging and Prometheus. A nil Sink is a
// valid no-op everywhere it is accepted.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Sink receives named events and errors with a property bag.
// Implementations must be safe for concurrent use; fire-and-forget
// semantics are acceptable.
type Sink interface {
	Event(name string, fields map[string]any)
	Error(name string, err error, fields map[string]any)
}

// Event records an event on sink, treating a nil sink as a no-op.
func Event(sink Sink, name string, fields map[string]any) {
	if sink == nil {
		return
	}
	sink.Event(name, fields)
}

// Error records an error on sink, treating a nil sink as a no-op.
func Error(sink Sink, name string, err error, fields map[string]any) {
	if sink == nil {
		return
	}
	sink.Error(name, err, fields)
}

// NopSink discards all events.
type NopSink struct{}

// Event implements Sink.
func (NopSink) Event(string, map[string]any) {}

// Error implements Sink.
func (NopSink) Error(string, error, map[string]any) {}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

// NewLogSink creates a sink that logs events at debug and errors at warn.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

// Event implements Sink.
func (s *LogSink) Event(name string, fields map[string]any) {
	s.Logger.Debug().Fields(fields).Str("event", name).Msg("telemetry event")
}

// Error implements Sink.
func (s *LogSink) Error(name string, err error, fields map[string]any) {
	s.Logger.Warn().Err(err).Fields(fields).Str("event", name).Msg("telemetry error")
}

// Prometheus metrics for the telemetry sink.
var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_telemetry_events_total",
		Help: "Total telemetry events by name",
	}, []string{"event"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_telemetry_errors_total",
		Help: "Total telemetry error events by name",
	}, []string{"event"})
)

// PrometheusSink counts events and errors by name. The property bag is
// intentionally not turned into labels (unbounded cardinality).
type PrometheusSink struct{}

// Event implements Sink.
func (PrometheusSink) Event(name string, fields map[string]any) {
	eventsTotal.WithLabelValues(name).Inc()
}

// Error implements Sink.
func (PrometheusSink) Error(name string, err error, fields map[string]any) {
	errorsTotal.WithLabelValues(name).Inc()
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Event implements Sink.
func (m MultiSink) Event(name string, fields map[string]any) {
	for _, s := range m {
		Event(s, name, fields)
	}
}

// Error implements Sink.
func (m MultiSink) Error(name string, err error, fields map[string]any) {
	for _, s := range m {
		Error(s, name, err, fields)
	}
}
