package snapshot

import (
	"fmt"
	"io"
	"log/slog"
)

// Stitch reconciles a crash that interrupted change delivery partway through
// a snapshot. The checkpoint says records [0, cp.RecordIndex) of snapshot
// cp.SnapshotNumber+1 were delivered against snapshot cp.SnapshotNumber. A
// new current snapshot is written whose first cp.RecordIndex records come
// from the newer snapshot and whose remaining records come from the older
// one: delivered changes are never re-emitted and undelivered changes are
// never lost, because re-diffing a fresh scan against the stitched snapshot
// yields exactly the outstanding work.
//
// Stitch must not run concurrently with other snapshot maintenance on the
// same directory; the monitor manager serializes it before monitors start.
func Stitch(dir string, cp MonitorCheckpoint) error {
	store, err := NewStore(dir)
	if err != nil {
		return err
	}

	older := cp.SnapshotNumber
	newer := older + 1

	// Snapshot 0 is the implicit empty snapshot preceding the first scan.
	olderReader := emptyReader()
	if older > 0 {
		olderReader, err = newReader(store.snapshotPath(older), older)
		if err != nil {
			return fmt.Errorf("stitch: older snapshot: %w", err)
		}
	}
	defer olderReader.close()

	newerReader, err := newReader(store.snapshotPath(newer), newer)
	if err != nil {
		return fmt.Errorf("stitch: newer snapshot: %w", err)
	}
	defer newerReader.close()

	w, err := store.OpenNewWriter()
	if err != nil {
		return fmt.Errorf("stitch: %w", err)
	}

	if err := copyRecords(w, newerReader, cp.RecordIndex); err != nil {
		store.Abort(w)
		return fmt.Errorf("stitch: delivered prefix: %w", err)
	}
	if err := skipRecords(olderReader, cp.RecordIndex); err != nil {
		store.Abort(w)
		return fmt.Errorf("stitch: %w", err)
	}
	if err := copyRecords(w, olderReader, -1); err != nil {
		store.Abort(w)
		return fmt.Errorf("stitch: undelivered suffix: %w", err)
	}

	if err := store.Close(nil, w); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}
	slog.Info("stitched snapshots after interrupted delivery",
		"dir", dir, "older", older, "newer", newer,
		"delivered", cp.RecordIndex, "stitched", w.Number())
	return nil
}

// copyRecords copies up to limit records from r to w; limit < 0 copies all.
func copyRecords(w *Writer, r *Reader, limit int) error {
	for i := 0; limit < 0 || i < limit; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			if limit < 0 {
				return nil
			}
			return fmt.Errorf("snapshot %d ended before record %d", r.Number(), limit)
		}
		if err != nil {
			return err
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// skipRecords advances r past up to n records. The older snapshot may hold
// fewer records than the delivered prefix of the newer one, so running out
// early is not an error.
func skipRecords(r *Reader, n int) error {
	for i := 0; i < n; i++ {
		_, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
