// Package artifact defines the files a sampling run leaves behind and the
// writers and readers for them.
//
// A run directory holds three files:
//
//	entries.ndjson  one {runInfo, entry} record per line
//	summary.json    entry counts per kind and the total
//	runInfo.json    parameters and provenance of the run
package artifact

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

const (
	EntriesFile = "entries.ndjson"
	SummaryFile = "summary.json"
	RunInfoFile = "runInfo.json"
)

// Error reports a failure to read or write an artifact.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RunInfo describes the parameters of a run.
type RunInfo struct {
	RunID       string `json:"runId"`
	GoVersion   string `json:"goVersion"`
	CollectedAt string `json:"collectedAt"`
	Target      string `json:"target"`
	Warmup      int    `json:"warmup"`
	Samples     int    `json:"samples"`
	DelayMs     int64  `json:"delayMs"`
}

// NewRunInfo fills in the run ID, Go version and collection time.
func NewRunInfo(target string, warmup, samples int, delay time.Duration, now time.Time) RunInfo {
	return RunInfo{
		RunID:       ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		GoVersion:   runtime.Version(),
		CollectedAt: now.UTC().Format(isoMillis),
		Target:      target,
		Warmup:      warmup,
		Samples:     samples,
		DelayMs:     delay.Milliseconds(),
	}
}

// Record pairs one captured entry with the run info it was collected under.
// Both halves are kept as raw JSON so unknown fields survive a round trip.
type Record struct {
	RunInfo json.RawMessage `json:"runInfo"`
	Entry   json.RawMessage `json:"entry"`
}

// Summary counts records by entry kind.
type Summary struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// unknownKind is the count key for records whose entry has no entryType.
const unknownKind = "unknown"

// Summarize counts records by the entryType of their entry.
func Summarize(records []Record) Summary {
	s := Summary{Counts: make(map[string]int), Total: len(records)}
	for _, r := range records {
		kind := gjson.GetBytes(r.Entry, "entryType").String()
		if kind == "" {
			kind = unknownKind
		}
		s.Counts[kind]++
	}
	return s
}

// Run is everything persisted for one sampling run.
type Run struct {
	Label   string
	Started time.Time
	Info    RunInfo
	Records []Record
	Summary Summary
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t as an ISO-8601 UTC instant that is safe in file names.
func Timestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
}

// RunDir returns <out>/<label>/<timestamp>.
func RunDir(out, label string, t time.Time) string {
	return filepath.Join(out, label, Timestamp(t))
}
