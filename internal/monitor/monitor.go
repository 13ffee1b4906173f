package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/drift/internal/change"
	"github.com/bamsammich/drift/internal/snapshot"
	"github.com/bamsammich/drift/internal/stats"
)

// fsTypeID identifies the local filesystem lister in snapshot records.
const fsTypeID = "local"

// stableAge is how long a file must sit unmodified before its record is
// flagged stable.
const stableAge = 10 * time.Second

// Monitor runs the scan/snapshot/diff/emit loop for one root.
type Monitor struct {
	name    string
	root    string
	store   *snapshot.Store
	lister  Lister
	agg     *change.Aggregator
	limiter *rate.Limiter
	stats   *stats.Collector
	seq     uint64
}

func newMonitor(
	name, root string,
	store *snapshot.Store,
	lister Lister,
	agg *change.Aggregator,
	interval time.Duration,
	collector *stats.Collector,
	startSeq uint64,
) *Monitor {
	return &Monitor{
		name:    name,
		root:    root,
		store:   store,
		lister:  lister,
		agg:     agg,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		stats:   collector,
		seq:     startSeq,
	}
}

// Name returns the monitor's stable name.
func (m *Monitor) Name() string { return m.name }

// Run loops scan cycles, paced by the configured interval, until ctx is
// canceled. Cancellation is cooperative: the current cycle finishes or
// aborts at its next blocking point, never mid-snapshot-write.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		if err := m.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, ErrAccessDenied) {
				// The checkpoint does not advance past the failure.
				slog.Warn("monitor root unreadable", "monitor", m.name, "root", m.root, "error", err)
				continue
			}
			slog.Error("scan cycle failed", "monitor", m.name, "root", m.root, "error", err)
		}
	}
}

// cycle performs one scan: list the root, write the listing as a new
// snapshot, diff it against the previous snapshot, and emit the changes.
// An empty tree is a valid, checkpointable cycle, not an error.
func (m *Monitor) cycle(ctx context.Context) error {
	entries, err := m.lister.List(ctx, m.root)
	if err != nil {
		return err
	}
	recs := m.toRecords(entries)
	m.stats.AddRecordsScanned(int64(len(recs)))

	reader, err := m.store.OpenMostRecentReader()
	if err != nil {
		return err
	}
	writer, err := m.store.OpenNewWriter()
	if err != nil {
		m.store.Close(reader, nil)
		return err
	}
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			m.store.Abort(writer)
			m.store.Close(reader, nil)
			return err
		}
	}
	// Publish the snapshot before emitting so every emitted checkpoint
	// refers to a fully-written snapshot pair.
	if err := m.store.Close(nil, writer); err != nil {
		m.store.Close(reader, nil)
		return err
	}
	m.stats.AddSnapshotsWritten(1)

	err = diffSnapshots(reader, recs, func(kind change.Kind, rec snapshot.Record, newIndex int) error {
		m.seq++
		c := change.Change{
			Checkpoint: snapshot.MonitorCheckpoint{
				MonitorName:    m.name,
				SnapshotNumber: reader.Number(),
				RecordIndex:    newIndex,
				MinorSeq:       m.seq,
			},
			Kind:   kind,
			Record: rec,
		}
		if addErr := m.agg.Add(ctx, c); addErr != nil {
			return addErr
		}
		m.stats.AddChange(kind)
		return nil
	})
	if closeErr := m.store.Close(reader, nil); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	m.stats.AddCyclesCompleted(1)
	if err := m.store.DeleteOldSnapshots(); err != nil {
		return fmt.Errorf("snapshot gc: %w", err)
	}
	return nil
}

func (m *Monitor) toRecords(entries []Entry) []snapshot.Record {
	stableBefore := time.Now().Add(-stableAge)
	recs := make([]snapshot.Record, len(entries))
	for i, e := range entries {
		typ := snapshot.TypeFile
		if e.Dir {
			typ = snapshot.TypeDir
		}
		recs[i] = snapshot.Record{
			FSType:   fsTypeID,
			Path:     e.Path,
			Type:     typ,
			ModTime:  e.ModTime.UnixNano(),
			Checksum: e.Checksum,
			Size:     e.Size,
			Stable:   e.ModTime.Before(stableBefore),
		}
	}
	return recs
}
