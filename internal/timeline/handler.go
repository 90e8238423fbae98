package timeline

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// Handler wraps next so that every served request emits an http event once
// the handler returns.
func (t *Timeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		t.Emit(entry.RawEvent{
			Kind:      entry.KindHTTP,
			Name:      entry.HTTPEntryName,
			StartTime: t.At(start),
			Duration:  millis(time.Since(start)),
			HTTP: &entry.HTTPDetail{
				Req: entry.RequestDetail{
					Method:  r.Method,
					URL:     r.URL.RequestURI(),
					Headers: flattenHeader(r.Header),
				},
				Res: entry.ResponseDetail{
					StatusCode:    status,
					StatusMessage: http.StatusText(status),
					Headers:       flattenHeader(w.Header()),
				},
			},
		})
	})
}

// flattenHeader lower-cases names and joins repeated values.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
