package output

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/dvelasquez/node-perf/internal/compare"
)

// Comparison output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// PrintComparison renders a compare.Report. Unknown formats are an error.
func PrintComparison(w io.Writer, r compare.Report, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return printComparisonText(w, r)
	case FormatJSON:
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
	}
}

func printComparisonText(w io.Writer, r compare.Report) error {
	var b strings.Builder
	b.WriteString("Entry count diff (B - A):\n")
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%-10s  A=%4d  B=%4d  Δ=%s\n", row.Kind, row.CountA, row.CountB, signed(row.Delta))
	}
	fmt.Fprintf(&b, "Totals: A=%d B=%d Δ=%s\n", r.TotalA, r.TotalB, signed(r.TotalDelta))
	_, err := io.WriteString(w, b.String())
	return err
}

// signed renders n with an explicit sign; zero is "+0".
func signed(n int) string {
	return fmt.Sprintf("%+d", n)
}
