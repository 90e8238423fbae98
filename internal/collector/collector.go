// Package collector subscribes to a host timeline, normalizes what it
// delivers and hands snapshots to drains and live subscribers.
package collector

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// Host is the event source: it advertises the kinds it can emit and delivers
// them to registered observers.
type Host interface {
	SupportedKinds() []entry.Kind
	Observe(kinds []entry.Kind, fn func([]entry.RawEvent)) (func(), error)
}

// EntryLog is a queryable log of completed host entries. Entries found there
// are merged into drains when the observer path missed them.
type EntryLog interface {
	EntriesByKind(kind entry.Kind) []entry.RawEvent
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEntryLog enables merging resource entries from log on drain.
func WithEntryLog(log EntryLog) Option {
	return func(c *Collector) { c.entryLog = log }
}

// WithBuffer uses b instead of a private buffer.
func WithBuffer(b *Buffer) Option {
	return func(c *Collector) {
		if b != nil {
			c.buf = b
		}
	}
}

// Collector owns the subscription to a Host.
type Collector struct {
	host     Host
	entryLog EntryLog
	buf      *Buffer
	log      *zap.Logger

	mu       sync.Mutex
	started  bool
	observed []entry.Kind
	cancel   func()

	subMu   sync.RWMutex
	subs    map[uint64]chan entry.Snapshot
	nextSub uint64

	drainMu  sync.Mutex
	reported map[entry.Identity]struct{}

	dropped atomic.Uint64
}

// New creates a collector bound to host.
func New(host Host, opts ...Option) *Collector {
	c := &Collector{
		host:     host,
		buf:      NewBuffer(),
		log:      zap.NewNop(),
		subs:     make(map[uint64]chan entry.Snapshot),
		reported: make(map[entry.Identity]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "collector"))
	return c
}

// Start subscribes to the intersection of desired and the host's supported
// kinds. An empty intersection logs a warning and leaves the collector idle.
// Calling Start again is a no-op that returns the kinds already observed.
func (c *Collector) Start(desired []entry.Kind) ([]entry.Kind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return append([]entry.Kind(nil), c.observed...), nil
	}

	supported := make(map[entry.Kind]struct{})
	for _, k := range c.host.SupportedKinds() {
		supported[k] = struct{}{}
	}
	var kinds []entry.Kind
	seen := make(map[entry.Kind]struct{})
	for _, k := range desired {
		if _, ok := supported[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}

	c.started = true
	if len(kinds) == 0 {
		c.log.Warn("no supported entry kinds to observe",
			zap.Any("desired", desired),
			zap.Any("supported", c.host.SupportedKinds()))
		return nil, nil
	}

	cancel, err := c.host.Observe(kinds, c.deliver)
	if err != nil {
		c.started = false
		return nil, err
	}
	c.cancel = cancel
	c.observed = kinds
	c.log.Info("observing entry kinds", zap.Any("kinds", kinds))
	return append([]entry.Kind(nil), kinds...), nil
}

// Observed returns the kinds currently subscribed to.
func (c *Collector) Observed() []entry.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entry.Kind(nil), c.observed...)
}

// Stop unsubscribes from the host and closes every subscriber channel.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

func (c *Collector) deliver(batch []entry.RawEvent) {
	snaps := make([]entry.Snapshot, 0, len(batch))
	for _, ev := range batch {
		if s, ok := entry.Normalize(ev); ok {
			snaps = append(snaps, s)
		}
	}
	if len(snaps) == 0 {
		return
	}
	if c.log.Core().Enabled(zap.DebugLevel) {
		for _, s := range snaps {
			c.log.Debug("performance entry", snapshotFields(s)...)
		}
	}
	c.buf.Append(snaps...)
	c.publish(snaps)
}

func snapshotFields(s entry.Snapshot) []zap.Field {
	fields := []zap.Field{
		zap.String("entryType", string(s.EntryType())),
		zap.String("name", s.EntryName()),
		zap.Float64("duration", s.EntryDuration()),
	}
	switch v := s.(type) {
	case entry.ResourceSnapshot:
		fields = append(fields,
			zap.String("initiatorType", v.InitiatorType),
			zap.Int64("transferSize", v.TransferSize),
		)
		if v.ResponseStatus != nil {
			fields = append(fields, zap.Int("status", *v.ResponseStatus))
		}
	case entry.HTTPSnapshot:
		fields = append(fields,
			zap.String("method", v.Detail.Req.Method),
			zap.String("url", v.Detail.Req.URL),
			zap.Int("status", v.Detail.Res.StatusCode),
		)
	}
	return fields
}

func (c *Collector) publish(snaps []entry.Snapshot) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		for _, s := range snaps {
			select {
			case ch <- s:
			default:
				c.dropped.Add(1)
			}
		}
	}
}

// Subscribe returns a live stream of snapshots as they are delivered. When the
// channel is full further snapshots are dropped for that subscriber. The
// returned function cancels the subscription and closes the channel.
func (c *Collector) Subscribe(buffer int) (<-chan entry.Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan entry.Snapshot, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		if cur, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(cur)
		}
		c.subMu.Unlock()
	}
}

func (c *Collector) observes(kind entry.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.observed {
		if k == kind {
			return true
		}
	}
	return false
}

// Dropped reports how many snapshots were not delivered to slow subscribers.
func (c *Collector) Dropped() uint64 {
	return c.dropped.Load()
}

// Drain returns every snapshot captured since the previous drain. With an
// entry log configured and resource among the observed kinds, resource
// entries found only in the log are appended, skipping anything already in
// the batch or reported by an earlier drain.
func (c *Collector) Drain() []entry.Snapshot {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	batch := c.buf.DrainAll()
	if c.entryLog == nil || !c.observes(entry.KindResource) {
		return batch
	}

	// A resource merged from the log may reach the observer path after that
	// drain; drop the late copy.
	inBatch := make(map[entry.Identity]struct{}, len(batch))
	kept := batch[:0]
	for _, s := range batch {
		id := entry.IdentityOf(s)
		if _, dup := c.reported[id]; dup && s.EntryType() == entry.KindResource {
			continue
		}
		inBatch[id] = struct{}{}
		kept = append(kept, s)
	}
	batch = kept

	logged := c.entryLog.EntriesByKind(entry.KindResource)
	present := make(map[entry.Identity]struct{}, len(logged))
	for _, ev := range logged {
		s, ok := entry.Normalize(ev)
		if !ok {
			continue
		}
		id := entry.IdentityOf(s)
		present[id] = struct{}{}
		if _, dup := inBatch[id]; dup {
			continue
		}
		if _, dup := c.reported[id]; dup {
			continue
		}
		inBatch[id] = struct{}{}
		batch = append(batch, s)
	}

	// Forget identities that have left the host log so the set stays bounded.
	next := make(map[entry.Identity]struct{}, len(present))
	for id := range inBatch {
		if _, ok := present[id]; ok {
			next[id] = struct{}{}
		}
	}
	for id := range c.reported {
		if _, ok := present[id]; ok {
			next[id] = struct{}{}
		}
	}
	c.reported = next
	return batch
}
