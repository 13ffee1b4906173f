package snapshot

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Writer appends records to a new snapshot. Records must be written in path
// order. The snapshot does not exist for readers until the writer is closed
// through Store.Close; an abandoned writer leaves only a temp file behind.
type Writer struct {
	f      *os.File
	enc    *zstd.Encoder
	tmp    string
	final  string
	number uint64
	count  int
}

func newWriter(tmpPath, finalPath string, number uint64) (*Writer, error) {
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create snapshot %d: %w", number, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create snapshot %d encoder: %w", number, err)
	}
	return &Writer{
		f:      f,
		enc:    enc,
		tmp:    tmpPath,
		final:  finalPath,
		number: number,
	}, nil
}

// Write appends one record to the snapshot.
func (w *Writer) Write(rec Record) error {
	payload := appendRecord(nil, rec)
	if err := writeFrame(w.enc, payload); err != nil {
		return fmt.Errorf("snapshot %d: %w", w.number, err)
	}
	w.count++
	return nil
}

// Number returns the snapshot number being written.
func (w *Writer) Number() uint64 { return w.number }

// Count returns how many records have been written so far.
func (w *Writer) Count() int { return w.count }

// finish flushes, syncs, and atomically publishes the snapshot file.
// The rename makes the fully-written file visible under its final name, so
// a crash mid-write never produces a readable partial snapshot.
func (w *Writer) finish() error {
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("finish snapshot %d: %w", w.number, err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync snapshot %d: %w", w.number, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close snapshot %d: %w", w.number, err)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		return fmt.Errorf("publish snapshot %d: %w", w.number, err)
	}
	return nil
}

// abort discards the in-progress snapshot.
func (w *Writer) abort() {
	w.enc.Close()
	w.f.Close()
	os.Remove(w.tmp)
}
