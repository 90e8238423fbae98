// Package compare diffs the entry-count summaries of two sampler runs.
package compare

import (
	"errors"
	"sort"
	"strings"

	"github.com/dvelasquez/node-perf/internal/artifact"
)

// ErrUsage is returned when a run directory argument is missing.
var ErrUsage = errors.New("usage: perf-compare <dirA> <dirB>")

// Row is the count of one entry kind in both runs.
type Row struct {
	Kind   string `json:"kind" yaml:"kind"`
	CountA int    `json:"countA" yaml:"countA"`
	CountB int    `json:"countB" yaml:"countB"`
	Delta  int    `json:"delta" yaml:"delta"`
}

// Report is the result of comparing run A against run B. Deltas are B - A.
type Report struct {
	Rows       []Row `json:"rows" yaml:"rows"`
	TotalA     int   `json:"totalA" yaml:"totalA"`
	TotalB     int   `json:"totalB" yaml:"totalB"`
	TotalDelta int   `json:"totalDelta" yaml:"totalDelta"`
}

// Compare joins the kinds of both summaries. A kind missing from one side
// counts as 0 there. Rows are sorted by kind.
func Compare(a, b artifact.Summary) Report {
	kinds := make(map[string]struct{}, len(a.Counts)+len(b.Counts))
	for k := range a.Counts {
		kinds[k] = struct{}{}
	}
	for k := range b.Counts {
		kinds[k] = struct{}{}
	}

	rows := make([]Row, 0, len(kinds))
	for k := range kinds {
		ca, cb := a.Counts[k], b.Counts[k]
		rows = append(rows, Row{Kind: k, CountA: ca, CountB: cb, Delta: cb - ca})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Kind < rows[j].Kind })

	return Report{
		Rows:       rows,
		TotalA:     a.Total,
		TotalB:     b.Total,
		TotalDelta: b.Total - a.Total,
	}
}

// CompareDirs reads summary.json from both run directories and compares
// them. Read and parse failures are returned as *artifact.Error.
func CompareDirs(dirA, dirB string) (Report, error) {
	if strings.TrimSpace(dirA) == "" || strings.TrimSpace(dirB) == "" {
		return Report{}, ErrUsage
	}
	a, err := artifact.ReadSummary(dirA)
	if err != nil {
		return Report{}, err
	}
	b, err := artifact.ReadSummary(dirB)
	if err != nil {
		return Report{}, err
	}
	return Compare(a, b), nil
}
