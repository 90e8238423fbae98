package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/dvelasquez/node-perf/internal/artifact"
)

var started = time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func sampleRecords() []artifact.Record {
	info := []byte(`{"goVersion":"go1.25","pid":42}`)
	return []artifact.Record{
		{RunInfo: info, Entry: []byte(`{"entryType":"http","name":"HttpRequest","duration":4}`)},
		{RunInfo: info, Entry: []byte(`{"entryType":"resource","name":"https://a.test/","duration":9}`)},
		{RunInfo: info, Entry: []byte(`{"entryType":"http","name":"HttpRequest","duration":5}`)},
	}
}

func TestSummarizeCountsByKind(t *testing.T) {
	s := artifact.Summarize(sampleRecords())
	if s.Total != 3 || s.Counts["http"] != 2 || s.Counts["resource"] != 1 {
		t.Fatalf("Summarize() = %+v", s)
	}

	empty := artifact.Summarize(nil)
	if empty.Total != 0 || empty.Counts == nil || len(empty.Counts) != 0 {
		t.Fatalf("Summarize(nil) = %+v", empty)
	}
}

func TestRunDirTimestamp(t *testing.T) {
	got := artifact.RunDir("out", "perf-target", started)
	want := filepath.Join("out", "perf-target", "2026-03-04T05-06-07.890Z")
	if got != want {
		t.Errorf("RunDir() = %q, want %q", got, want)
	}
}

func TestNewRunInfo(t *testing.T) {
	info := artifact.NewRunInfo("http://localhost:3000", 3, 10, 200*time.Millisecond, started)
	if len(info.RunID) != 26 {
		t.Errorf("RunID = %q, want a ULID", info.RunID)
	}
	if info.DelayMs != 200 || info.Warmup != 3 || info.Samples != 10 {
		t.Errorf("info = %+v", info)
	}
	if info.CollectedAt != "2026-03-04T05:06:07.890Z" {
		t.Errorf("CollectedAt = %q", info.CollectedAt)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
}

func TestFSWriterRoundTrip(t *testing.T) {
	root := t.TempDir()
	records := sampleRecords()
	run := artifact.Run{
		Label:   "perf-target",
		Started: started,
		Info:    artifact.NewRunInfo("http://localhost:3000", 1, 3, 0, started),
		Records: records,
		Summary: artifact.Summarize(records),
	}

	dir, err := artifact.NewFSWriter(root, nil).WriteRun(context.Background(), run)
	if err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}
	if dir != artifact.RunDir(root, run.Label, started) {
		t.Errorf("dir = %q", dir)
	}

	names := listFiles(t, dir)
	if strings.Join(names, ",") != "entries.ndjson,runInfo.json,summary.json" {
		t.Errorf("files = %v", names)
	}

	raw, err := os.ReadFile(filepath.Join(dir, artifact.SummaryFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte("\n  \"counts\"")) {
		t.Errorf("summary.json is not 2-space indented:\n%s", raw)
	}

	summary, err := artifact.ReadSummary(dir)
	if err != nil {
		t.Fatalf("ReadSummary() error = %v", err)
	}
	if summary.Total != 3 || summary.Counts["http"] != 2 {
		t.Errorf("summary = %+v", summary)
	}

	back, err := artifact.ReadRecords(dir)
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}
	if len(back) != len(records) {
		t.Fatalf("ReadRecords() returned %d records", len(back))
	}
	if got := gjson.GetBytes(back[1].Entry, "name").String(); got != "https://a.test/" {
		t.Errorf("record order not preserved, got %q", got)
	}
	if got := gjson.GetBytes(back[0].RunInfo, "pid").Int(); got != 42 {
		t.Errorf("runInfo not preserved, pid = %d", got)
	}

	info, err := artifact.ReadRunInfo(dir)
	if err != nil || info.RunID != run.Info.RunID {
		t.Errorf("ReadRunInfo() = %+v, %v", info, err)
	}
}

func TestFSWriterCreatesEmptyEntriesFile(t *testing.T) {
	root := t.TempDir()
	run := artifact.Run{Label: "x", Started: started, Summary: artifact.Summarize(nil)}

	dir, err := artifact.NewFSWriter(root, nil).WriteRun(context.Background(), run)
	if err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}
	st, err := os.Stat(filepath.Join(dir, artifact.EntriesFile))
	if err != nil {
		t.Fatalf("entries file missing: %v", err)
	}
	if st.Size() != 0 {
		t.Errorf("entries file size = %d, want 0", st.Size())
	}
	records, err := artifact.ReadRecords(dir)
	if err != nil || len(records) != 0 {
		t.Errorf("ReadRecords() = %v, %v", records, err)
	}
}

func TestFSWriterFailureLeavesNoRunDir(t *testing.T) {
	root := t.TempDir()
	records := append(sampleRecords(), artifact.Record{RunInfo: []byte(`{}`), Entry: []byte(`{"entryType":`)})
	run := artifact.Run{Label: "broken", Started: started, Records: records, Summary: artifact.Summarize(records)}

	_, err := artifact.NewFSWriter(root, nil).WriteRun(context.Background(), run)
	var aerr *artifact.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("WriteRun() error = %v, want *artifact.Error", err)
	}
	if _, err := os.Stat(artifact.RunDir(root, run.Label, started)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("run directory exists after a failed write: %v", err)
	}
	left, err := os.ReadDir(filepath.Join(root, run.Label))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("label directory not empty: %v", left)
	}
}

func TestFSWriterReplacesRunWithSameTimestamp(t *testing.T) {
	root := t.TempDir()
	w := artifact.NewFSWriter(root, nil)
	records := sampleRecords()
	first := artifact.Run{Label: "x", Started: started, Records: records, Summary: artifact.Summarize(records)}
	if _, err := w.WriteRun(context.Background(), first); err != nil {
		t.Fatal(err)
	}

	second := artifact.Run{Label: "x", Started: started, Records: records[:1], Summary: artifact.Summarize(records[:1])}
	dir, err := w.WriteRun(context.Background(), second)
	if err != nil {
		t.Fatalf("second WriteRun() error = %v", err)
	}
	back, err := artifact.ReadRecords(dir)
	if err != nil || len(back) != 1 {
		t.Errorf("ReadRecords() = %d records, %v; want 1", len(back), err)
	}
	st, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o755 {
		t.Errorf("run dir mode = %v", st.Mode().Perm())
	}
}

func TestReadSummaryErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := artifact.ReadSummary(dir)
	var aerr *artifact.Error
	if !errors.As(err, &aerr) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("ReadSummary(missing) error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, artifact.SummaryFile), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := artifact.ReadSummary(dir); !errors.As(err, &aerr) {
		t.Fatalf("ReadSummary(malformed) error = %v, want *artifact.Error", err)
	}
	if aerr.Path != filepath.Join(dir, artifact.SummaryFile) {
		t.Errorf("Error.Path = %q", aerr.Path)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  map[string]*s3.PutObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
		f.inputs = make(map[string]*s3.PutObjectInput)
	}
	f.objects[*in.Key] = body
	f.inputs[*in.Key] = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3MirrorUploadsArtifacts(t *testing.T) {
	client := &fakeS3{}
	m := &artifact.S3Mirror{Client: client, Bucket: "perf", Prefix: "runs"}
	records := sampleRecords()
	run := artifact.Run{Label: "perf-target", Started: started, Records: records, Summary: artifact.Summarize(records)}

	loc, err := m.WriteRun(context.Background(), run)
	if err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}
	base := "runs/perf-target/2026-03-04T05-06-07.890Z"
	if loc != "s3://perf/"+base {
		t.Errorf("location = %q", loc)
	}

	gz, ok := client.objects[base+"/entries.ndjson.gz"]
	if !ok {
		t.Fatalf("entries object missing, have %v", keys(client.objects))
	}
	if enc := client.inputs[base+"/entries.ndjson.gz"].ContentEncoding; enc == nil || *enc != "gzip" {
		t.Errorf("ContentEncoding = %v", enc)
	}
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if lines := strings.Count(string(plain), "\n"); lines != 3 {
		t.Errorf("entries lines = %d, want 3", lines)
	}
	if got := gjson.GetBytes(client.objects[base+"/summary.json"], "total").Int(); got != 3 {
		t.Errorf("summary total = %d", got)
	}
	if _, ok := client.objects[base+"/runInfo.json"]; !ok {
		t.Error("runInfo object missing")
	}
}

func TestMultiWriterStopsOnError(t *testing.T) {
	root := t.TempDir()
	failing := &artifact.S3Mirror{Client: &fakeS3{err: errors.New("denied")}, Bucket: "b"}
	w := artifact.MultiWriter{artifact.NewFSWriter(root, nil), failing}

	run := artifact.Run{Label: "x", Started: started, Summary: artifact.Summarize(nil)}
	loc, err := w.WriteRun(context.Background(), run)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if loc != artifact.RunDir(root, "x", started) {
		t.Errorf("location = %q, want local dir", loc)
	}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
