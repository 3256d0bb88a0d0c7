package taskloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of task event.
type EventKind string

const (
	EventTaskStart     EventKind = "task_start"
	EventTaskEnd       EventKind = "task_end"
	EventModelResponse EventKind = "model_response"
	EventCommandStart  EventKind = "command_start"
	EventCommandEnd    EventKind = "command_end"
	EventCorrection    EventKind = "correction"
	EventTruncation    EventKind = "truncation"
	EventRepeat        EventKind = "repeat"
	EventError         EventKind = "error"
)

// TaskEvent is a typed event emitted by the task loop.
type TaskEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers task events to the host application via a channel.
// A nil emitter drops everything.
type EventEmitter struct {
	ch     chan TaskEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		ch: make(chan TaskEvent, bufferSize),
	}
}

// Emit sends an event to the channel. Events are dropped when the emitter is
// closed or the buffer is full.
func (e *EventEmitter) Emit(taskID string, kind EventKind, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := TaskEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		TaskID:    taskID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan TaskEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
