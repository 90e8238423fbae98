package entry

import (
	"errors"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrUnknownKind is returned by Decode for payloads whose entryType is not one
// of the snapshot kinds.
var ErrUnknownKind = errors.New("unknown entry kind")

// Normalize maps a raw host event to its snapshot. The boolean is false for
// kinds that have no snapshot shape; that is filtering, not failure.
func Normalize(ev RawEvent) (Snapshot, bool) {
	switch ev.Kind {
	case KindResource:
		return normalizeResource(ev), true
	case KindHTTP:
		s := HTTPSnapshot{
			Duration:  clampDuration(ev.Duration),
			StartTime: ev.StartTime,
		}
		if ev.HTTP != nil {
			s.Detail = *ev.HTTP
		}
		return s, true
	case KindMeasure:
		return MeasureSnapshot{
			Name:      ev.Name,
			Duration:  clampDuration(ev.Duration),
			StartTime: ev.StartTime,
		}, true
	default:
		return nil, false
	}
}

func normalizeResource(ev RawEvent) ResourceSnapshot {
	s := ResourceSnapshot{
		Name:      ev.Name,
		Duration:  clampDuration(ev.Duration),
		StartTime: ev.StartTime,
	}
	rt := ev.Resource
	if rt == nil {
		return s
	}
	s.InitiatorType = rt.InitiatorType
	s.WorkerStart = rt.WorkerStart
	s.RedirectStart = rt.RedirectStart
	s.RedirectEnd = rt.RedirectEnd
	s.FetchStart = rt.FetchStart
	s.DomainLookupStart = rt.DomainLookupStart
	s.DomainLookupEnd = rt.DomainLookupEnd
	s.ConnectStart = rt.ConnectStart
	s.ConnectEnd = rt.ConnectEnd
	s.SecureConnectionStart = rt.SecureConnectionStart
	s.RequestStart = rt.RequestStart
	s.ResponseStart = rt.ResponseStart
	s.ResponseEnd = rt.ResponseEnd
	s.TransferSize = rt.TransferSize
	s.EncodedBodySize = rt.EncodedBodySize
	s.DecodedBodySize = rt.DecodedBodySize
	s.DeliveryType = rt.DeliveryType
	if rt.ResponseStatus > 0 {
		status := rt.ResponseStatus
		s.ResponseStatus = &status
	}
	return s
}

func clampDuration(d float64) float64 {
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

// Decode parses the JSON form of a snapshot.
func Decode(data []byte) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode snapshot: invalid JSON")
	}
	kind := Kind(gjson.GetBytes(data, "entryType").String())
	switch kind {
	case KindResource:
		var s ResourceSnapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode resource snapshot: %w", err)
		}
		s.Duration = clampDuration(s.Duration)
		return s, nil
	case KindHTTP:
		var s HTTPSnapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode http snapshot: %w", err)
		}
		s.Duration = clampDuration(s.Duration)
		return s, nil
	case KindMeasure:
		var s MeasureSnapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode measure snapshot: %w", err)
		}
		s.Duration = clampDuration(s.Duration)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
