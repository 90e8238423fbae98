package artifact

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// ReadSummary loads summary.json from a run directory.
func ReadSummary(dir string) (Summary, error) {
	var s Summary
	if err := readJSON(filepath.Join(dir, SummaryFile), &s); err != nil {
		return Summary{}, err
	}
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	return s, nil
}

// ReadRunInfo loads runInfo.json from a run directory.
func ReadRunInfo(dir string) (RunInfo, error) {
	var info RunInfo
	err := readJSON(filepath.Join(dir, RunInfoFile), &info)
	return info, err
}

// ReadRecords loads every record of entries.ndjson. Blank lines are skipped.
func ReadRecords(dir string) ([]Record, error) {
	p := filepath.Join(dir, EntriesFile)
	f, err := os.Open(p)
	if err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	defer f.Close()

	records := []Record{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, &Error{Path: p, Err: err}
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	return records, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}
