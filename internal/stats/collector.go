// Package stats tracks monitoring counters using lock-free atomics so
// monitor goroutines never contend while reporting progress.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/bamsammich/drift/internal/change"
)

// Collector accumulates counters across all monitors. The zero value is
// ready to use.
type Collector struct {
	cyclesCompleted  atomic.Int64
	recordsScanned   atomic.Int64
	snapshotsWritten atomic.Int64
	changesAdded     atomic.Int64
	changesDeleted   atomic.Int64
	changesModified  atomic.Int64
	batchesDelivered atomic.Int64
	changesDelivered atomic.Int64
}

func (c *Collector) AddCyclesCompleted(n int64)  { c.cyclesCompleted.Add(n) }
func (c *Collector) AddRecordsScanned(n int64)   { c.recordsScanned.Add(n) }
func (c *Collector) AddSnapshotsWritten(n int64) { c.snapshotsWritten.Add(n) }
func (c *Collector) AddBatchesDelivered(n int64) { c.batchesDelivered.Add(n) }
func (c *Collector) AddChangesDelivered(n int64) { c.changesDelivered.Add(n) }

// AddChange counts one emitted change by kind.
func (c *Collector) AddChange(kind change.Kind) {
	switch kind {
	case change.Add:
		c.changesAdded.Add(1)
	case change.Delete:
		c.changesDeleted.Add(1)
	case change.Modify:
		c.changesModified.Add(1)
	}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	CyclesCompleted  int64
	RecordsScanned   int64
	SnapshotsWritten int64
	ChangesAdded     int64
	ChangesDeleted   int64
	ChangesModified  int64
	BatchesDelivered int64
	ChangesDelivered int64
	At               time.Time
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		CyclesCompleted:  c.cyclesCompleted.Load(),
		RecordsScanned:   c.recordsScanned.Load(),
		SnapshotsWritten: c.snapshotsWritten.Load(),
		ChangesAdded:     c.changesAdded.Load(),
		ChangesDeleted:   c.changesDeleted.Load(),
		ChangesModified:  c.changesModified.Load(),
		BatchesDelivered: c.batchesDelivered.Load(),
		ChangesDelivered: c.changesDelivered.Load(),
		At:               time.Now(),
	}
}

// TotalChanges returns the total number of emitted changes.
func (s Snapshot) TotalChanges() int64 {
	return s.ChangesAdded + s.ChangesDeleted + s.ChangesModified
}
