package timeline

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// DefaultInitiator is the initiator type reported for outbound fetches.
const DefaultInitiator = "fetch"

// Approximate header bytes added to the encoded body in transferSize.
const headerOverhead = 300

// Transport is an http.RoundTripper that reports each completed outbound
// request as a resource event. The event is emitted once the response body is
// fully read or closed. Requests that fail before a response arrives emit
// nothing.
type Transport struct {
	Base          http.RoundTripper
	Timeline      *Timeline
	InitiatorType string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(tl *Timeline, base http.RoundTripper) *Transport {
	return &Transport{Base: base, Timeline: tl, InitiatorType: DefaultInitiator}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Timeline == nil {
		return t.base().RoundTrip(req)
	}

	rec := &fetchRecorder{
		tl:        t.Timeline,
		name:      req.URL.String(),
		initiator: t.InitiatorType,
		fetch:     time.Now(),
	}
	if rec.initiator == "" {
		rec.initiator = DefaultInitiator
	}

	ctx := httptrace.WithClientTrace(req.Context(), rec.trace())
	resp, err := t.base().RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	rec.status = resp.StatusCode
	rec.encoded = resp.ContentLength
	if resp.Uncompressed {
		rec.encoded = -1
	}
	resp.Body = &timedBody{ReadCloser: resp.Body, rec: rec}
	return resp, nil
}

type fetchRecorder struct {
	tl        *Timeline
	name      string
	initiator string
	fetch     time.Time
	status    int
	encoded   int64

	mu            sync.Mutex
	dnsStart      time.Time
	dnsEnd        time.Time
	connectStart  time.Time
	connectEnd    time.Time
	tlsStart      time.Time
	requestStart  time.Time
	responseStart time.Time
	emitted       bool
}

func (r *fetchRecorder) stamp(dst *time.Time, keepFirst bool) {
	now := time.Now()
	r.mu.Lock()
	if !keepFirst || dst.IsZero() {
		*dst = now
	}
	r.mu.Unlock()
}

func (r *fetchRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { r.stamp(&r.dnsStart, true) },
		DNSDone:              func(httptrace.DNSDoneInfo) { r.stamp(&r.dnsEnd, false) },
		ConnectStart:         func(string, string) { r.stamp(&r.connectStart, true) },
		ConnectDone:          func(string, string, error) { r.stamp(&r.connectEnd, false) },
		TLSHandshakeStart:    func() { r.stamp(&r.tlsStart, true) },
		GotConn:              func(httptrace.GotConnInfo) { r.stamp(&r.requestStart, true) },
		GotFirstResponseByte: func() { r.stamp(&r.responseStart, true) },
	}
}

// finish emits the resource event exactly once.
func (r *fetchRecorder) finish(read int64) {
	end := time.Now()
	r.mu.Lock()
	if r.emitted {
		r.mu.Unlock()
		return
	}
	r.emitted = true

	at := func(ts time.Time) float64 {
		if ts.IsZero() {
			ts = r.fetch
		}
		return r.tl.At(ts)
	}
	connectEnd := r.connectEnd
	if connectEnd.IsZero() {
		connectEnd = r.connectStart
	}
	timing := &entry.ResourceTiming{
		InitiatorType:     r.initiator,
		FetchStart:        r.tl.At(r.fetch),
		DomainLookupStart: at(r.dnsStart),
		DomainLookupEnd:   at(r.dnsEnd),
		ConnectStart:      at(r.connectStart),
		ConnectEnd:        at(connectEnd),
		RequestStart:      at(r.requestStart),
		ResponseStart:     at(r.responseStart),
		ResponseEnd:       r.tl.At(end),
		DecodedBodySize:   read,
		ResponseStatus:    r.status,
	}
	if !r.tlsStart.IsZero() {
		timing.SecureConnectionStart = r.tl.At(r.tlsStart)
	}
	r.mu.Unlock()

	timing.EncodedBodySize = r.encoded
	if timing.EncodedBodySize < 0 {
		timing.EncodedBodySize = read
	}
	timing.TransferSize = timing.EncodedBodySize + headerOverhead

	r.tl.Emit(entry.RawEvent{
		Kind:      entry.KindResource,
		Name:      r.name,
		StartTime: timing.FetchStart,
		Duration:  millis(end.Sub(r.fetch)),
		Resource:  timing,
	})
}

type timedBody struct {
	io.ReadCloser
	rec  *fetchRecorder
	read int64
}

func (b *timedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	if err == io.EOF {
		b.rec.finish(b.read)
	}
	return n, err
}

func (b *timedBody) Close() error {
	err := b.ReadCloser.Close()
	b.rec.finish(b.read)
	return err
}
