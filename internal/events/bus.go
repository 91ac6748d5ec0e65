// Package events is the daemon's log sink. Every remote call and every failure
// is reported here and fanned out to observers such as the SSE stream and web
// push.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"axle-sync-backend/internal/metrics"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Event is one log line.
type Event struct {
	ID      uint64    `json:"id"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Source  string    `json:"source,omitempty"`
	Message string    `json:"message"`
}

// Sink accepts log lines. Log must never block or panic.
type Sink interface {
	Log(level Level, message string)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(Level, string) {}

// SubscriberID identifies a Bus observer.
type SubscriberID uint64

type subscriber struct {
	queue chan Event
	fn    func(Event)
}

// Bus stores recent events and delivers every event to each observer on the
// observer's own goroutine. Events are dropped for an observer whose queue is
// full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
	nextID      SubscriberID
	seq         uint64
	history     []Event
	capacity    int
	logger      *slog.Logger
}

// NewBus creates a Bus keeping the last capacity events.
func NewBus(logger *slog.Logger, capacity int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 500
	}
	return &Bus{
		subscribers: make(map[SubscriberID]*subscriber),
		capacity:    capacity,
		logger:      logger,
	}
}

// Log emits an event without a source.
func (b *Bus) Log(level Level, message string) {
	b.Emit(Event{Level: level, Message: message})
}

// Logf is Log with formatting.
func (b *Bus) Logf(level Level, format string, args ...any) {
	b.Log(level, fmt.Sprintf(format, args...))
}

// Source returns a Sink that tags events with name.
func (b *Bus) Source(name string) Sink {
	return sourceSink{bus: b, name: name}
}

type sourceSink struct {
	bus  *Bus
	name string
}

func (s sourceSink) Log(level Level, message string) {
	s.bus.Emit(Event{Level: level, Source: s.name, Message: message})
}

// Emit records evt and queues it for every observer.
func (b *Bus) Emit(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event sink panic", "panic", r)
		}
	}()

	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}

	b.mu.Lock()
	b.seq++
	evt.ID = b.seq
	b.history = append(b.history, evt)
	if len(b.history) > b.capacity {
		b.history = append([]Event(nil), b.history[len(b.history)-b.capacity:]...)
	}
	b.mu.Unlock()

	b.logger.Log(context.Background(), evt.Level.slogLevel(), evt.Message, "source", evt.Source, "event_id", evt.ID)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		select {
		case s.queue <- evt:
		default:
			metrics.DroppedEvents.Inc()
		}
	}
}

// Subscribe registers fn with a queue of the given size.
func (b *Bus) Subscribe(fn func(Event), buffer int) SubscriberID {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{queue: make(chan Event, buffer), fn: fn}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = s
	b.mu.Unlock()

	go b.drain(s)
	return id
}

func (b *Bus) drain(s *subscriber) {
	for evt := range s.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event observer panic", "panic", r)
				}
			}()
			s.fn(evt)
		}()
	}
}

// Unsubscribe removes an observer. Queued events may still be delivered.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(s.queue)
	}
}

// Close removes every observer.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subscribers {
		delete(b.subscribers, id)
		close(s.queue)
	}
}

// Recent returns up to n of the newest events, oldest first, optionally
// restricted to one source.
func (b *Bus) Recent(n int, source string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for i := len(b.history) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if source != "" && b.history[i].Source != source {
			continue
		}
		out = append(out, b.history[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
