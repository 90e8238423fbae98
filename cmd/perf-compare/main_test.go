package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/dvelasquez/node-perf/internal/artifact"
	"github.com/dvelasquez/node-perf/internal/compare"
)

func writeSummary(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, artifact.SummaryFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRunText(t *testing.T) {
	a := writeSummary(t, `{"counts":{"http":5},"total":5}`)
	b := writeSummary(t, `{"counts":{"http":5,"resource":2},"total":7}`)

	var out bytes.Buffer
	if err := run([]string{a, b}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	want := "Entry count diff (B - A):\n" +
		"http        A=   5  B=   5  Δ=+0\n" +
		"resource    A=   0  B=   2  Δ=+2\n" +
		"Totals: A=5 B=7 Δ=+2\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
}

func TestRunJSONFormat(t *testing.T) {
	a := writeSummary(t, `{"counts":{"measure":3},"total":3}`)
	b := writeSummary(t, `{"counts":{},"total":0}`)

	var out bytes.Buffer
	if err := run([]string{"--format", "json", a, b}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := gjson.Get(out.String(), "totalDelta").Int(); got != -3 {
		t.Errorf("totalDelta = %d, want -3", got)
	}
	if got := gjson.Get(out.String(), "rows.0.kind").String(); got != "measure" {
		t.Errorf("rows.0.kind = %q", got)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	a := writeSummary(t, `{"counts":{"resource":4,"http":9,"measure":1,"mark":2},"total":16}`)
	b := writeSummary(t, `{"counts":{"measure":3,"http":7,"unknown":1},"total":11}`)

	for _, format := range []string{"text", "json", "yaml"} {
		var first, second bytes.Buffer
		if err := run([]string{"--format", format, a, b}, &first); err != nil {
			t.Fatalf("%s: first run() error = %v", format, err)
		}
		if err := run([]string{"--format", format, a, b}, &second); err != nil {
			t.Fatalf("%s: second run() error = %v", format, err)
		}
		if first.Len() == 0 || !bytes.Equal(first.Bytes(), second.Bytes()) {
			t.Errorf("%s output differs between runs:\n%s\n---\n%s", format, first.String(), second.String())
		}
	}
}

func TestRunMissingArgs(t *testing.T) {
	for _, args := range [][]string{nil, {"only-one"}} {
		err := run(args, &bytes.Buffer{})
		if !errors.Is(err, compare.ErrUsage) {
			t.Errorf("run(%v) error = %v, want ErrUsage", args, err)
		}
	}
}

func TestRunMissingSummary(t *testing.T) {
	a := writeSummary(t, `{"counts":{},"total":0}`)
	err := run([]string{a, t.TempDir()}, &bytes.Buffer{})
	var aerr *artifact.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("run() error = %v, want *artifact.Error", err)
	}
}

func TestRunUnknownFormat(t *testing.T) {
	a := writeSummary(t, `{"counts":{},"total":0}`)
	if err := run([]string{"--format", "xml", a, a}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
