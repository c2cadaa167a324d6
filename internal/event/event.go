// Package event carries the informational messages produced by discovery and
// conversion back to whoever drives them.
package event

import (
	"fmt"
	"sync"
	"time"
)

// Level is the severity of an event
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Kind categorizes what happened
type Kind string

const (
	KindDeviceFound     Kind = "device_found"
	KindDuplicate       Kind = "duplicate"
	KindMissingField    Kind = "missing_field"
	KindParseError      Kind = "parse_error"
	KindFilesystemError Kind = "filesystem_error"
	KindTimestampError  Kind = "timestamp_error"
	KindSnapshot        Kind = "snapshot_selected"
	KindConvertingFile  Kind = "converting_file"
	KindDeviceDone      Kind = "device_done"
	KindDeviceSkipped   Kind = "device_skipped"
	KindDeviceFailed    Kind = "device_failed"
	KindCancelled       Kind = "cancelled"
	KindRunDone         Kind = "run_done"
)

// TimeFormat is the layout used when rendering events for display
const TimeFormat = "2006-01-02 15:04:05"

// Event is a single informational message
type Event struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Kind    Kind      `json:"kind"`
	Path    string    `json:"path,omitempty"`
	Device  string    `json:"device,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Handler receives events as they happen. A nil Handler discards them.
type Handler func(Event)

// Emit delivers e to h if h is set
func (h Handler) Emit(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h(e)
}

// String renders the event the way the log window shows it.
func (e Event) String() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Time.Format(TimeFormat), msg)
}

// Info builds an info-level event
func Info(kind Kind, path, format string, args ...interface{}) Event {
	return Event{Time: time.Now(), Level: LevelInfo, Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Warn builds a warn-level event carrying err
func Warn(kind Kind, path string, err error, format string, args ...interface{}) Event {
	return Event{Time: time.Now(), Level: LevelWarn, Kind: kind, Path: path, Err: err, Message: fmt.Sprintf(format, args...)}
}

// Error builds an error-level event carrying err
func Error(kind Kind, path string, err error, format string, args ...interface{}) Event {
	return Event{Time: time.Now(), Level: LevelError, Kind: kind, Path: path, Err: err, Message: fmt.Sprintf(format, args...)}
}

// Collector accumulates events. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Handle appends e; pass c.Handle wherever a Handler is expected
func (c *Collector) Handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of everything collected so far
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many collected events have the given kind
func (c *Collector) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Tee returns a Handler forwarding to every non-nil handler in order
func Tee(handlers ...Handler) Handler {
	return func(e Event) {
		for _, h := range handlers {
			h.Emit(e)
		}
	}
}
