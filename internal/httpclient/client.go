package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dvelasquez/node-perf/internal/timeline"
)

// MaxBodyBytes caps how much of an upstream JSON body FetchJSON will read.
const MaxBodyBytes = 8 << 20

// ErrBodyTooLarge is returned when an upstream body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

type Option func(*clientOptions)

type clientOptions struct {
	timeline  *timeline.Timeline
	initiator string
}

// WithTimeline records every request made by the client as a resource entry
// on tl.
func WithTimeline(tl *timeline.Timeline) Option {
	return func(o *clientOptions) {
		o.timeline = tl
	}
}

// WithInitiator sets the initiatorType reported on recorded resource entries.
func WithInitiator(initiator string) Option {
	return func(o *clientOptions) {
		o.initiator = initiator
	}
}

// NewClient returns a client with a pooled transport. A non-positive timeout
// means no client-level timeout.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = newTransport()
	if o.timeline != nil {
		t := timeline.NewTransport(o.timeline, rt)
		if o.initiator != "" {
			t.InitiatorType = o.initiator
		}
		rt = t
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// FetchJSON GETs url and returns the body when it is valid JSON. The status
// code is not checked: any response carrying a JSON body is accepted.
func FetchJSON(ctx context.Context, client *http.Client, url string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > MaxBodyBytes {
		return nil, resp.StatusCode, fmt.Errorf("%s: %w", url, ErrBodyTooLarge)
	}
	if !json.Valid(body) {
		return nil, resp.StatusCode, fmt.Errorf("%s: response is not valid JSON", url)
	}
	return json.RawMessage(body), resp.StatusCode, nil
}
