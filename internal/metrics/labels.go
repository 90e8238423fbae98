package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dvelasquez/node-perf/internal/entry"
)

const statusUnknown = "unknown"

// LabelError reports a snapshot whose labels could not be derived.
type LabelError struct {
	Name string
	Err  error
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("derive labels for %q: %v", e.Name, e.Err)
}

func (e *LabelError) Unwrap() error { return e.Err }

// HTTPLabels maps an inbound request to {method, path, status}.
func HTTPLabels(s entry.HTTPSnapshot) prometheus.Labels {
	return prometheus.Labels{
		"method": s.Detail.Req.Method,
		"path":   s.Detail.Req.URL,
		"status": strconv.Itoa(s.Detail.Res.StatusCode),
	}
}

// ResourceLabels maps an outbound fetch to {host, path, status, initiator}.
// The name must be an absolute URL.
func ResourceLabels(s entry.ResourceSnapshot) (prometheus.Labels, error) {
	u, err := url.Parse(s.Name)
	if err != nil {
		return nil, &LabelError{Name: s.Name, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &LabelError{Name: s.Name, Err: errors.New("not an absolute URL")}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return prometheus.Labels{
		"host":      u.Host,
		"path":      path,
		"status":    statusLabel(s.ResponseStatus),
		"initiator": s.InitiatorType,
	}, nil
}

func statusLabel(status *int) string {
	if status == nil {
		return statusUnknown
	}
	return strconv.Itoa(*status)
}
