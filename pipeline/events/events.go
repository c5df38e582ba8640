// Package events records the state transitions of a pipeline run and fans
// them out to logs, memory, MQTT and Postgres.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Levels used on events.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Event is one state transition of a run.
type Event struct {
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	State     string         `json:"state"`
	Level     string         `json:"level"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// Sink receives events. Emit must not block for long; the pipeline is waiting.
type Sink interface {
	Emit(e Event) error
	Close() error
}

// LogSink writes events through logrus.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(e Event) error {
	entry := logrus.WithFields(logrus.Fields{"run_id": e.RunID, "state": e.State})
	for k, v := range e.Fields {
		entry = entry.WithField(k, v)
	}
	if e.Level == LevelError {
		entry.Debugf("run entered %s: %s", e.State, e.Message)
	} else {
		entry.Debugf("run entered %s", e.State)
	}
	return nil
}

// Close implements Sink.
func (LogSink) Close() error { return nil }

// Recorder keeps events in memory (goroutine-safe).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// MultiSink sends every event to all sinks.
type MultiSink []Sink

// Emit delivers e to every sink and joins their errors.
func (m MultiSink) Emit(e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
