// Package events is the structured observability stream consumed by the
// surrounding orchestration and dashboards. Every failure or settlement
// outcome in the core emits exactly one leveled event here.
package events

import (
	"log"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one entry in the observability stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	TxHash    string    `json:"txHash,omitempty"`
	RunID     string    `json:"runId,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// LogSink writes events through the standard logger.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	if e.TxHash != "" {
		log.Printf("[%s] %s tx=%s", e.Level, e.Message, e.TxHash)
		return
	}
	log.Printf("[%s] %s", e.Level, e.Message)
}

// MemorySink records events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByLevel returns recorded events matching the level.
func (m *MemorySink) ByLevel(level Level) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Emitter stamps events with a timestamp and optional run id before
// forwarding to the sink. A nil Emitter drops everything, which keeps call
// sites unconditional.
type Emitter struct {
	sink  Sink
	runID string
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// WithRun returns an emitter that tags events with the run id.
func (e *Emitter) WithRun(runID string) *Emitter {
	if e == nil {
		return nil
	}
	return &Emitter{sink: e.sink, runID: runID}
}

func (e *Emitter) emit(level Level, msg, txHash string) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		TxHash:    txHash,
		RunID:     e.runID,
	})
}

func (e *Emitter) Info(msg string)                 { e.emit(LevelInfo, msg, "") }
func (e *Emitter) Infof(msg, txHash string)        { e.emit(LevelInfo, msg, txHash) }
func (e *Emitter) Warn(msg string)                 { e.emit(LevelWarn, msg, "") }
func (e *Emitter) Error(msg string)                { e.emit(LevelError, msg, "") }
func (e *Emitter) Errorf(msg, txHash string)       { e.emit(LevelError, msg, txHash) }
