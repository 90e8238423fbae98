package output

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressReporter redraws a one-line sampler status at a fixed interval.
type ProgressReporter struct {
	mu       sync.Mutex
	phase    string
	done     int
	total    int
	entries  int
	ticker   *time.Ticker
	stop     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		phase:    "idle",
		ticker:   time.NewTicker(interval),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Update records the latest iteration. entries is the running total drained
// so far.
func (p *ProgressReporter) Update(phase string, done, total, entries int) {
	p.mu.Lock()
	p.phase, p.done, p.total, p.entries = phase, done, total, entries
	p.mu.Unlock()
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and terminates the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.stop)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprint(p.writer, p.line()+"\n")
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.stop:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("\rPhase: %s | Iteration: %d/%d | Entries: %d | Elapsed: %s",
		p.phase, p.done, p.total, p.entries, time.Since(p.start).Round(time.Second))
}
