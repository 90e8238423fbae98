package timeline_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/timeline"
)

type sink struct {
	mu     sync.Mutex
	events []entry.RawEvent
}

func (s *sink) observe(batch []entry.RawEvent) {
	s.mu.Lock()
	s.events = append(s.events, batch...)
	s.mu.Unlock()
}

func (s *sink) all() []entry.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry.RawEvent(nil), s.events...)
}

func flush(t *testing.T, tl *timeline.Timeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tl.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestObserveFiltersByKind(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	var s sink
	cancel, err := tl.Observe([]entry.Kind{entry.KindMeasure}, s.observe)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	defer cancel()

	tl.Mark("start")
	if _, err := tl.Measure("work", "start", ""); err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	flush(t, tl)

	got := s.all()
	if len(got) != 1 || got[0].Kind != entry.KindMeasure || got[0].Name != "work" {
		t.Fatalf("observed %+v, want one measure", got)
	}
}

func TestObserveCancelStopsDelivery(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	var s sink
	cancel, err := tl.Observe([]entry.Kind{entry.KindMark}, s.observe)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	cancel()
	cancel()

	tl.Mark("ignored")
	flush(t, tl)
	if n := len(s.all()); n != 0 {
		t.Fatalf("expected no events after cancel, got %d", n)
	}
}

func TestObserveValidatesArguments(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	if _, err := tl.Observe(nil, func([]entry.RawEvent) {}); err == nil {
		t.Error("expected error for empty kinds")
	}
	if _, err := tl.Observe([]entry.Kind{entry.KindHTTP}, nil); err == nil {
		t.Error("expected error for nil callback")
	}
}

func TestMeasureUnknownMark(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	if _, err := tl.Measure("m", "missing", ""); err == nil {
		t.Fatal("expected error for unknown start mark")
	}
	tl.Mark("a")
	if _, err := tl.Measure("m", "a", "b"); err == nil {
		t.Fatal("expected error for unknown end mark")
	}
	tl.ClearMarks()
	if _, err := tl.Measure("m", "a", ""); err == nil {
		t.Fatal("expected error after ClearMarks")
	}
}

func TestResourceLogIsBounded(t *testing.T) {
	tl := timeline.New(timeline.WithResourceBufferSize(2))
	defer tl.Close()

	for _, name := range []string{"a", "b", "c"} {
		tl.Emit(entry.RawEvent{Kind: entry.KindResource, Name: name})
	}
	tl.Emit(entry.RawEvent{Kind: entry.KindMeasure, Name: "m"})

	got := tl.EntriesByKind(entry.KindResource)
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "c" {
		t.Fatalf("EntriesByKind(resource) = %+v", got)
	}
	if tl.EntriesByKind(entry.KindMeasure) != nil {
		t.Error("only resource entries should be retained")
	}
	tl.ClearResourceTimings()
	if n := len(tl.EntriesByKind(entry.KindResource)); n != 0 {
		t.Errorf("expected empty log after clear, got %d", n)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	tl := timeline.New()
	tl.Close()
	tl.Close()

	if _, err := tl.Observe([]entry.Kind{entry.KindHTTP}, func([]entry.RawEvent) {}); !errors.Is(err, timeline.ErrClosed) {
		t.Errorf("Observe after Close error = %v, want ErrClosed", err)
	}
	if err := tl.Flush(context.Background()); !errors.Is(err, timeline.ErrClosed) {
		t.Errorf("Flush after Close error = %v, want ErrClosed", err)
	}
}

func TestHandlerEmitsHTTPEvent(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	var s sink
	cancel, _ := tl.Observe([]entry.Kind{entry.KindHTTP}, s.observe)
	defer cancel()

	h := tl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/data?x=1", nil)
	req.Header.Set("X-Trace", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	flush(t, tl)

	got := s.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 http event, got %d", len(got))
	}
	ev := got[0]
	if ev.Name != entry.HTTPEntryName || ev.HTTP == nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.HTTP.Req.URL != "/data?x=1" || ev.HTTP.Req.Method != http.MethodGet {
		t.Errorf("req = %+v", ev.HTTP.Req)
	}
	if ev.HTTP.Req.Headers["x-trace"] != "abc" {
		t.Errorf("request headers not lower-cased: %v", ev.HTTP.Req.Headers)
	}
	if ev.HTTP.Res.StatusCode != http.StatusTeapot || ev.HTTP.Res.StatusMessage != "I'm a teapot" {
		t.Errorf("res = %+v", ev.HTTP.Res)
	}
	if ev.HTTP.Res.Headers["content-type"] != "application/json" {
		t.Errorf("response headers = %v", ev.HTTP.Res.Headers)
	}
}

func TestTransportEmitsResourceOnBodyEOF(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	tl := timeline.New()
	defer tl.Close()

	client := &http.Client{Transport: timeline.NewTransport(tl, nil)}
	resp, err := client.Get(upstream.URL + "/todos/1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := len(tl.EntriesByKind(entry.KindResource)); n != 0 {
		t.Fatalf("resource emitted before body was read: %d", n)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	got := tl.EntriesByKind(entry.KindResource)
	if len(got) != 1 {
		t.Fatalf("expected 1 resource entry, got %d", len(got))
	}
	ev := got[0]
	if ev.Name != upstream.URL+"/todos/1" {
		t.Errorf("name = %q", ev.Name)
	}
	rt := ev.Resource
	if rt == nil {
		t.Fatal("missing resource timing")
	}
	if rt.InitiatorType != timeline.DefaultInitiator || rt.ResponseStatus != http.StatusOK {
		t.Errorf("timing = %+v", rt)
	}
	if rt.DecodedBodySize != int64(len(body)) {
		t.Errorf("decodedBodySize = %d, want %d", rt.DecodedBodySize, len(body))
	}
	if rt.ResponseEnd < rt.FetchStart || ev.Duration < 0 {
		t.Errorf("inconsistent timing: %+v duration=%v", rt, ev.Duration)
	}
	if rt.SecureConnectionStart != 0 {
		t.Errorf("plain http should not report secureConnectionStart, got %v", rt.SecureConnectionStart)
	}
}

func TestTransportErrorEmitsNothing(t *testing.T) {
	tl := timeline.New()
	defer tl.Close()

	client := &http.Client{Transport: timeline.NewTransport(tl, nil), Timeout: time.Second}
	if _, err := client.Get("http://127.0.0.1:1/unreachable"); err == nil {
		t.Fatal("expected connection error")
	}
	if n := len(tl.EntriesByKind(entry.KindResource)); n != 0 {
		t.Fatalf("failed fetch should not emit, got %d entries", n)
	}
}
