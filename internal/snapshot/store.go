package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	snapshotPrefix = "snap."
	tempSuffix     = ".tmp"

	// retainFloor is the minimum number of trailing snapshots kept by GC
	// regardless of guarantees.
	retainFloor = 3
)

// ErrWriterActive is returned when a second writer is opened before the
// first is closed. This is a caller bug, not a retryable condition.
var ErrWriterActive = errors.New("there is already an active writer")

// Store owns the numbered snapshot files for one monitored root. At most one
// writer may be open at a time. The directory is exclusively owned by one
// Store per process.
type Store struct {
	dir string

	// mu serializes writer bookkeeping, guarantee updates, and GC so
	// snapshot maintenance never races with itself.
	mu            sync.Mutex
	writerActive  bool
	guarantee     uint64
	haveGuarantee bool
}

// NewStore opens (or creates) a snapshot directory. Stale temp files from a
// crashed writer are removed; published snapshots are never touched here.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	removeStaleTemps(dir)
	return &Store{dir: dir}, nil
}

// Dir returns the snapshot directory path.
func (s *Store) Dir() string { return s.dir }

// OpenNewWriter opens a writer for the next snapshot number. It fails with
// ErrWriterActive if a writer is already open.
func (s *Store) OpenNewWriter() (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writerActive {
		return nil, ErrWriterActive
	}

	numbers, err := snapshotNumbers(s.dir)
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	if len(numbers) > 0 {
		next = numbers[len(numbers)-1] + 1
	}

	w, err := newWriter(s.snapshotPath(next)+tempSuffix, s.snapshotPath(next), next)
	if err != nil {
		return nil, err
	}
	s.writerActive = true
	return w, nil
}

// OpenMostRecentReader returns a reader over the highest-numbered snapshot.
// An empty store yields a valid reader whose first Read is io.EOF.
func (s *Store) OpenMostRecentReader() (*Reader, error) {
	numbers, err := snapshotNumbers(s.dir)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return emptyReader(), nil
	}
	latest := numbers[len(numbers)-1]
	return newReader(s.snapshotPath(latest), latest)
}

// Close releases a reader and a writer symmetrically. Either may be nil.
// Closing the writer publishes its snapshot.
func (s *Store) Close(r *Reader, w *Writer) error {
	var firstErr error
	if r != nil {
		if err := r.close(); err != nil {
			firstErr = err
		}
	}
	if w != nil {
		err := w.finish()
		s.mu.Lock()
		s.writerActive = false
		s.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Abort discards an in-progress writer without publishing its snapshot.
func (s *Store) Abort(w *Writer) {
	if w == nil {
		return
	}
	w.abort()
	s.mu.Lock()
	s.writerActive = false
	s.mu.Unlock()
}

// AcceptGuarantee records that a consumer has durably recorded all changes
// up to cp, permitting GC of snapshots below its snapshot number.
// Guarantees only move forward.
func (s *Store) AcceptGuarantee(cp MonitorCheckpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveGuarantee || cp.SnapshotNumber > s.guarantee {
		s.guarantee = cp.SnapshotNumber
		s.haveGuarantee = true
	}
}

// DeleteOldSnapshots removes snapshots no longer needed: everything below
// the guaranteed snapshot number, except the retainFloor most recent which
// are always kept. Without a guarantee nothing is deleted; ambiguity
// resolves toward re-delivery, never loss.
func (s *Store) DeleteOldSnapshots() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveGuarantee {
		return nil
	}

	numbers, err := snapshotNumbers(s.dir)
	if err != nil {
		return err
	}
	if len(numbers) <= retainFloor {
		return nil
	}

	floor := numbers[len(numbers)-retainFloor]
	for _, n := range numbers {
		if n >= s.guarantee || n >= floor {
			continue
		}
		if err := os.Remove(s.snapshotPath(n)); err != nil {
			return fmt.Errorf("delete snapshot %d: %w", n, err)
		}
		slog.Debug("deleted old snapshot", "dir", s.dir, "snapshot", n)
	}
	return nil
}

// DeleteSnapshotsAfter removes published snapshots numbered above n. It
// backs a failed stitch out to the checkpointed snapshot: the next diff
// then runs against that snapshot and re-delivers the undelivered tail
// instead of losing it behind a newer snapshot that already contains it.
func (s *Store) DeleteSnapshotsAfter(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbers, err := snapshotNumbers(s.dir)
	if err != nil {
		return err
	}
	for _, num := range numbers {
		if num <= n {
			continue
		}
		if err := os.Remove(s.snapshotPath(num)); err != nil {
			return fmt.Errorf("delete snapshot %d: %w", num, err)
		}
		slog.Warn("rolled back snapshot", "dir", s.dir, "snapshot", num)
	}
	return nil
}

func (s *Store) snapshotPath(n uint64) string {
	return filepath.Join(s.dir, snapshotPrefix+strconv.FormatUint(n, 10))
}

// snapshotNumbers returns the published snapshot numbers in dir, ascending.
func snapshotNumbers(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dir: %w", err)
	}
	var numbers []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || strings.HasSuffix(name, tempSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, snapshotPrefix), 10, 64)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	return numbers, nil
}

func removeStaleTemps(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), snapshotPrefix) && strings.HasSuffix(e.Name(), tempSuffix) {
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err == nil {
				slog.Warn("removed stale snapshot temp file", "path", path)
			}
		}
	}
}
