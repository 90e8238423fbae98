package artifact

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const lockFile = ".lock"

// Writer persists a finished run and returns where it went.
type Writer interface {
	WriteRun(ctx context.Context, run Run) (string, error)
}

// FSWriter writes runs under a local output directory.
type FSWriter struct {
	Root        string
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// NewFSWriter returns a writer rooted at root.
func NewFSWriter(root string, logger *zap.Logger) *FSWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSWriter{Root: root, LockTimeout: 5 * time.Second, Logger: logger}
}

// WriteRun writes all three artifacts into a staging directory next to the
// run directory and renames it into place, so a failed write leaves no run
// directory behind. Writers for the same label are serialized by a lock file
// in the label directory. entries.ndjson is created even when there are no
// records.
func (w *FSWriter) WriteRun(ctx context.Context, run Run) (string, error) {
	dir := RunDir(w.Root, run.Label, run.Started)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", &Error{Path: parent, Err: err}
	}

	lockPath := filepath.Join(parent, lockFile)
	lock := flock.New(lockPath)
	timeout := w.LockTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return "", &Error{Path: lockPath, Err: err}
	}
	if !locked {
		return "", &Error{Path: lockPath, Err: errors.New("label directory is locked by another writer")}
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-")
	if err != nil {
		return "", &Error{Path: parent, Err: err}
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := writeNDJSON(filepath.Join(staging, EntriesFile), run.Records); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(staging, SummaryFile), run.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(staging, RunInfoFile), run.Info); err != nil {
		return "", err
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return "", &Error{Path: staging, Err: err}
	}
	// Same label and millisecond: the newer run replaces the older one.
	if err := os.RemoveAll(dir); err != nil {
		return "", &Error{Path: dir, Err: err}
	}
	if err := os.Rename(staging, dir); err != nil {
		return "", &Error{Path: dir, Err: err}
	}
	published = true

	if w.Logger != nil {
		w.Logger.Info("run artifacts written",
			zap.String("dir", dir),
			zap.Int("records", len(run.Records)))
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

func writeNDJSON(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	bw := bufio.NewWriter(f)
	if err := encodeRecords(bw, records); err != nil {
		f.Close()
		return &Error{Path: path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return &Error{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

// encodeRecords writes one compact JSON document per line.
func encodeRecords(w *bufio.Writer, records []Record) error {
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// MultiWriter writes the run with every writer in order and returns the
// location reported by the first one.
type MultiWriter []Writer

func (m MultiWriter) WriteRun(ctx context.Context, run Run) (string, error) {
	var first string
	for i, w := range m {
		loc, err := w.WriteRun(ctx, run)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}
