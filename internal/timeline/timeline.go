// Package timeline is the in-process performance timeline that instrumented
// code reports to. It plays the host role for the capture pipeline: it emits
// raw timing events for inbound handlers, outbound fetches and user measures,
// delivers them to observers in batches from a dispatcher goroutine, and keeps
// a bounded log of completed resource entries that can be queried directly.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvelasquez/node-perf/internal/entry"
)

const defaultResourceBufferSize = 250

// ErrClosed is returned by operations on a closed timeline.
var ErrClosed = errors.New("timeline closed")

// Timeline records timing events relative to its origin.
type Timeline struct {
	origin    time.Time
	supported []entry.Kind
	logLimit  int

	mu        sync.Mutex
	observers map[uint64]*observer
	nextID    uint64
	pending   []entry.RawEvent
	resources []entry.RawEvent
	marks     map[string]float64
	closed    bool

	wake      chan struct{}
	flushes   chan chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type observer struct {
	kinds map[entry.Kind]struct{}
	fn    func([]entry.RawEvent)
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithSupportedKinds overrides the kinds the timeline advertises.
func WithSupportedKinds(kinds ...entry.Kind) Option {
	return func(t *Timeline) {
		t.supported = append([]entry.Kind(nil), kinds...)
	}
}

// WithResourceBufferSize bounds the resource entry log. Oldest entries are
// evicted first.
func WithResourceBufferSize(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.logLimit = n
		}
	}
}

// New creates a timeline and starts its dispatcher. Call Close to stop it.
func New(opts ...Option) *Timeline {
	t := &Timeline{
		origin:    time.Now(),
		supported: []entry.Kind{entry.KindHTTP, entry.KindResource, entry.KindMeasure, entry.KindMark},
		logLimit:  defaultResourceBufferSize,
		observers: make(map[uint64]*observer),
		marks:     make(map[string]float64),
		wake:      make(chan struct{}, 1),
		flushes:   make(chan chan struct{}),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.dispatch()
	return t
}

// Now returns the milliseconds elapsed since the timeline origin.
func (t *Timeline) Now() float64 {
	return t.At(time.Now())
}

// At converts a wall-clock instant to timeline milliseconds.
func (t *Timeline) At(ts time.Time) float64 {
	return millis(ts.Sub(t.origin))
}

// SupportedKinds returns the kinds this timeline can emit.
func (t *Timeline) SupportedKinds() []entry.Kind {
	return append([]entry.Kind(nil), t.supported...)
}

// Observe registers fn for batches of events whose kind is in kinds. fn runs
// on the dispatcher goroutine and must not block. The returned function
// removes the observer.
func (t *Timeline) Observe(kinds []entry.Kind, fn func([]entry.RawEvent)) (func(), error) {
	if fn == nil {
		return nil, errors.New("observer callback is required")
	}
	if len(kinds) == 0 {
		return nil, errors.New("at least one entry kind is required")
	}
	set := make(map[entry.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	id := t.nextID
	t.nextID++
	t.observers[id] = &observer{kinds: set, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}, nil
}

// Emit queues ev for delivery. It never blocks on observers.
func (t *Timeline) Emit(ev entry.RawEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if ev.Kind == entry.KindResource {
		t.resources = append(t.resources, ev)
		if over := len(t.resources) - t.logLimit; over > 0 {
			t.resources = append(t.resources[:0:0], t.resources[over:]...)
		}
	}
	t.pending = append(t.pending, ev)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// EntriesByKind queries the completed entry log. Only resource entries are
// retained; other kinds return nil.
func (t *Timeline) EntriesByKind(kind entry.Kind) []entry.RawEvent {
	if kind != entry.KindResource {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]entry.RawEvent(nil), t.resources...)
}

// ClearResourceTimings empties the resource entry log.
func (t *Timeline) ClearResourceTimings() {
	t.mu.Lock()
	t.resources = nil
	t.mu.Unlock()
}

// Mark records a named instant and emits a mark event.
func (t *Timeline) Mark(name string) float64 {
	now := t.Now()
	t.mu.Lock()
	t.marks[name] = now
	t.mu.Unlock()
	t.Emit(entry.RawEvent{Kind: entry.KindMark, Name: name, StartTime: now})
	return now
}

// Measure emits a measure spanning startMark to endMark. An empty endMark
// measures up to now.
func (t *Timeline) Measure(name, startMark, endMark string) (entry.RawEvent, error) {
	end := t.Now()
	t.mu.Lock()
	start, ok := t.marks[startMark]
	if ok && endMark != "" {
		end, ok = t.marks[endMark]
		if !ok {
			startMark = endMark
		}
	}
	t.mu.Unlock()
	if !ok {
		return entry.RawEvent{}, fmt.Errorf("mark %q does not exist", startMark)
	}

	ev := entry.RawEvent{
		Kind:      entry.KindMeasure,
		Name:      name,
		StartTime: start,
		Duration:  end - start,
	}
	t.Emit(ev)
	return ev, nil
}

// ClearMarks removes the named marks, or all marks when none are given.
func (t *Timeline) ClearMarks(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(names) == 0 {
		t.marks = make(map[string]float64)
		return
	}
	for _, n := range names {
		delete(t.marks, n)
	}
}

// Flush blocks until every event emitted before the call has been delivered
// to observers.
func (t *Timeline) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.flushes <- ack:
	case <-t.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers pending events, stops the dispatcher and drops observers.
func (t *Timeline) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		<-t.stopped
		t.mu.Lock()
		t.closed = true
		t.observers = make(map[uint64]*observer)
		t.mu.Unlock()
	})
}

func (t *Timeline) dispatch() {
	defer close(t.stopped)
	for {
		select {
		case <-t.done:
			t.deliver()
			return
		case <-t.wake:
			t.deliver()
		case ack := <-t.flushes:
			t.deliver()
			close(ack)
		}
	}
}

func (t *Timeline) deliver() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	observers := make([]*observer, 0, len(t.observers))
	for _, o := range t.observers {
		observers = append(observers, o)
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, o := range observers {
		filtered := make([]entry.RawEvent, 0, len(batch))
		for _, ev := range batch {
			if _, ok := o.kinds[ev.Kind]; ok {
				filtered = append(filtered, ev)
			}
		}
		if len(filtered) > 0 {
			o.fn(filtered)
		}
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
