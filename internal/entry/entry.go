package entry

import (
	json "github.com/goccy/go-json"
)

// Kind is the discriminator of a timing entry.
type Kind string

const (
	KindResource Kind = "resource"
	KindHTTP     Kind = "http"
	KindMeasure  Kind = "measure"
	KindMark     Kind = "mark"
)

// HTTPEntryName is the fixed name of every inbound request entry.
const HTTPEntryName = "HttpRequest"

// Kinds returns the kinds that normalize to a snapshot.
func Kinds() []Kind {
	return []Kind{KindHTTP, KindResource, KindMeasure}
}

// ParseKinds converts names into kinds, skipping blanks and duplicates.
func ParseKinds(names []string) []Kind {
	seen := make(map[Kind]struct{}, len(names))
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		k := Kind(n)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds
}

// ResourceTiming carries the phase timestamps of an outbound fetch.
type ResourceTiming struct {
	InitiatorType         string
	WorkerStart           float64
	RedirectStart         float64
	RedirectEnd           float64
	FetchStart            float64
	DomainLookupStart     float64
	DomainLookupEnd       float64
	ConnectStart          float64
	ConnectEnd            float64
	SecureConnectionStart float64
	RequestStart          float64
	ResponseStart         float64
	ResponseEnd           float64
	TransferSize          int64
	EncodedBodySize       int64
	DecodedBodySize       int64
	DeliveryType          string
	ResponseStatus        int // 0 when unknown
}

// RequestDetail describes the inbound request of an http entry.
type RequestDetail struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ResponseDetail describes the response written for an http entry.
type ResponseDetail struct {
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
	Headers       map[string]string `json:"headers"`
}

// HTTPDetail pairs the request and response of an http entry.
type HTTPDetail struct {
	Req RequestDetail  `json:"req"`
	Res ResponseDetail `json:"res"`
}

// RawEvent is a timing event as emitted by the host. Only the detail pointer
// matching Kind is meaningful.
type RawEvent struct {
	Kind      Kind
	Name      string
	StartTime float64
	Duration  float64
	Resource  *ResourceTiming
	HTTP      *HTTPDetail
}

// Snapshot is a normalized, immutable timing record. The interface is closed:
// only the snapshot types of this package implement it.
type Snapshot interface {
	EntryType() Kind
	EntryName() string
	EntryStartTime() float64
	EntryDuration() float64
	snapshot()
}

// Identity is the de-duplication key of a snapshot.
type Identity struct {
	Kind      Kind
	Name      string
	StartTime float64
	Duration  float64
}

// IdentityOf returns the identity of s.
func IdentityOf(s Snapshot) Identity {
	return Identity{
		Kind:      s.EntryType(),
		Name:      s.EntryName(),
		StartTime: s.EntryStartTime(),
		Duration:  s.EntryDuration(),
	}
}

// ResourceSnapshot is the normalized form of an outbound fetch.
type ResourceSnapshot struct {
	Name                  string  `json:"name"`
	InitiatorType         string  `json:"initiatorType"`
	Duration              float64 `json:"duration"`
	StartTime             float64 `json:"startTime"`
	WorkerStart           float64 `json:"workerStart"`
	RedirectStart         float64 `json:"redirectStart"`
	RedirectEnd           float64 `json:"redirectEnd"`
	FetchStart            float64 `json:"fetchStart"`
	DomainLookupStart     float64 `json:"domainLookupStart"`
	DomainLookupEnd       float64 `json:"domainLookupEnd"`
	ConnectStart          float64 `json:"connectStart"`
	ConnectEnd            float64 `json:"connectEnd"`
	SecureConnectionStart float64 `json:"secureConnectionStart"`
	RequestStart          float64 `json:"requestStart"`
	ResponseStart         float64 `json:"responseStart"`
	ResponseEnd           float64 `json:"responseEnd"`
	TransferSize          int64   `json:"transferSize"`
	EncodedBodySize       int64   `json:"encodedBodySize"`
	DecodedBodySize       int64   `json:"decodedBodySize"`
	DeliveryType          string  `json:"deliveryType,omitempty"`
	ResponseStatus        *int    `json:"responseStatus,omitempty"`
}

func (ResourceSnapshot) EntryType() Kind           { return KindResource }
func (s ResourceSnapshot) EntryName() string       { return s.Name }
func (s ResourceSnapshot) EntryStartTime() float64 { return s.StartTime }
func (s ResourceSnapshot) EntryDuration() float64  { return s.Duration }
func (ResourceSnapshot) snapshot()                 {}

func (s ResourceSnapshot) MarshalJSON() ([]byte, error) {
	type fields ResourceSnapshot
	return json.Marshal(struct {
		EntryType Kind `json:"entryType"`
		fields
	}{KindResource, fields(s)})
}

// HTTPSnapshot is the normalized form of a completed inbound request.
type HTTPSnapshot struct {
	Duration  float64    `json:"duration"`
	StartTime float64    `json:"startTime"`
	Detail    HTTPDetail `json:"detail"`
}

func (HTTPSnapshot) EntryType() Kind           { return KindHTTP }
func (HTTPSnapshot) EntryName() string         { return HTTPEntryName }
func (s HTTPSnapshot) EntryStartTime() float64 { return s.StartTime }
func (s HTTPSnapshot) EntryDuration() float64  { return s.Duration }
func (HTTPSnapshot) snapshot()                 {}

func (s HTTPSnapshot) MarshalJSON() ([]byte, error) {
	type fields HTTPSnapshot
	return json.Marshal(struct {
		EntryType Kind   `json:"entryType"`
		Name      string `json:"name"`
		fields
	}{KindHTTP, HTTPEntryName, fields(s)})
}

// MeasureSnapshot is the normalized form of an explicitly measured interval.
type MeasureSnapshot struct {
	Name      string  `json:"name"`
	Duration  float64 `json:"duration"`
	StartTime float64 `json:"startTime"`
}

func (MeasureSnapshot) EntryType() Kind           { return KindMeasure }
func (s MeasureSnapshot) EntryName() string       { return s.Name }
func (s MeasureSnapshot) EntryStartTime() float64 { return s.StartTime }
func (s MeasureSnapshot) EntryDuration() float64  { return s.Duration }
func (MeasureSnapshot) snapshot()                 {}

func (s MeasureSnapshot) MarshalJSON() ([]byte, error) {
	type fields MeasureSnapshot
	return json.Marshal(struct {
		EntryType Kind `json:"entryType"`
		fields
		Detail *struct{} `json:"detail"`
	}{EntryType: KindMeasure, fields: fields(s)})
}
