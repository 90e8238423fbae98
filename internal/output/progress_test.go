package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressReporterRendersLatestUpdate(t *testing.T) {
	var buf syncBuffer
	reporter := NewProgressReporter(10*time.Millisecond, &buf)
	reporter.Start()
	reporter.Update("warmup", 1, 3, 0)
	reporter.Update("sampling", 4, 10, 42)
	time.Sleep(30 * time.Millisecond)
	reporter.Stop()

	out := buf.String()
	if !strings.Contains(out, "Phase: sampling | Iteration: 4/10 | Entries: 42") {
		t.Errorf("output missing latest update: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Stop() should terminate the status line")
	}
}

func TestProgressReporterStopIsIdempotent(t *testing.T) {
	var buf syncBuffer
	reporter := NewProgressReporter(time.Hour, &buf)
	reporter.Start()
	reporter.Start()
	reporter.Stop()
	reporter.Stop()

	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("expected one final line, got %d", got)
	}
}

func TestProgressReporterNilWriter(t *testing.T) {
	reporter := NewProgressReporter(time.Millisecond, nil)
	reporter.Start()
	reporter.Update("sampling", 1, 1, 1)
	reporter.Stop()
}
