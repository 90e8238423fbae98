package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/dvelasquez/node-perf/internal/tracing"
)

// Target is the service being sampled.
type Target interface {
	// Trigger performs one unit of instrumented work.
	Trigger(ctx context.Context) error
	// Drain collects and clears the entries captured since the last drain.
	Drain(ctx context.Context) (DrainResponse, error)
}

// DrainResponse is the payload of the drain endpoint. Both fields are kept as
// raw JSON so entries are persisted exactly as served.
type DrainResponse struct {
	RunInfo json.RawMessage   `json:"runInfo"`
	Entries []json.RawMessage `json:"entries"`
}

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// UpstreamError reports a failed call to the target.
type UpstreamError struct {
	Op  string
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

const maxErrorBody = 1024

// HTTPTarget drives a target over HTTP GET requests.
type HTTPTarget struct {
	Client     *http.Client
	TriggerURL string
	DrainURL   string
	Propagate  bool // inject W3C trace headers
}

// NewHTTPTarget resolves triggerPath and drainPath against base.
func NewHTTPTarget(client *http.Client, base, triggerPath, drainPath string) (*HTTPTarget, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: must be an absolute URL", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	root := strings.TrimRight(base, "/")
	return &HTTPTarget{
		Client:     client,
		TriggerURL: root + "/" + strings.TrimLeft(triggerPath, "/"),
		DrainURL:   root + "/" + strings.TrimLeft(drainPath, "/"),
	}, nil
}

func (t *HTTPTarget) Trigger(ctx context.Context) error {
	if _, err := t.get(ctx, t.TriggerURL); err != nil {
		return &UpstreamError{Op: "trigger", URL: t.TriggerURL, Err: err}
	}
	return nil
}

func (t *HTTPTarget) Drain(ctx context.Context) (DrainResponse, error) {
	body, err := t.get(ctx, t.DrainURL)
	if err != nil {
		return DrainResponse{}, &UpstreamError{Op: "drain", URL: t.DrainURL, Err: err}
	}
	var resp DrainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return DrainResponse{}, &UpstreamError{Op: "drain", URL: t.DrainURL, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Entries == nil {
		return DrainResponse{}, &UpstreamError{Op: "drain", URL: t.DrainURL, Err: errors.New("response has no entries array")}
	}
	return resp, nil
}

func (t *HTTPTarget) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if t.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return io.ReadAll(resp.Body)
}
