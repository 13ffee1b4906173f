package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/bamsammich/drift/internal/change"
	"github.com/bamsammich/drift/internal/snapshot"
)

// DefaultMaximumQueueSize is the refill ceiling used until the consumer
// sets a batch hint.
const DefaultMaximumQueueSize = 500

// ErrDeactivated is returned by every operation on a queue that has been
// deactivated. Using a deactivated handle is a caller bug.
var ErrDeactivated = errors.New("queue has been deactivated")

// CheckpointAndChange pairs one change with the global checkpoint assigned
// at enqueue time. It stays queued until the consumer confirms a checkpoint
// at or past its own.
type CheckpointAndChange struct {
	Checkpoint Checkpoint    `json:"checkpoint"`
	Change     change.Change `json:"change"`
}

// Queue is the durable checkpoint-and-change queue. All operations are
// mutually exclusive; Resume holds the lock across the aggregator pull and
// the recovery write because the in-memory list, the restart map, and the
// on-disk recovery file must change atomically together.
type Queue struct {
	source     change.Source
	persistDir string

	mu          sync.Mutex
	entries     []CheckpointAndChange
	last        Checkpoint
	maxSize     int
	restart     map[string]snapshot.MonitorCheckpoint
	deactivated bool
}

// New creates a queue pulling from source and persisting recovery state
// under persistDir.
func New(source change.Source, persistDir string) (*Queue, error) {
	if err := os.MkdirAll(persistDir, 0o700); err != nil {
		return nil, fmt.Errorf("create recovery dir: %w", err)
	}
	return &Queue{
		source:     source,
		persistDir: persistDir,
		maxSize:    DefaultMaximumQueueSize,
		restart:    make(map[string]snapshot.MonitorCheckpoint),
	}, nil
}

// Start initializes the queue. An empty token starts from scratch and
// discards all persisted recovery state; a non-empty token reloads exactly
// one complete recovery file, or fails with ErrRecoveryCorrupt. Either way
// at most one recovery file remains afterward.
func (q *Queue) Start(token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deactivated {
		return ErrDeactivated
	}

	slog.Info("starting checkpoint queue", "checkpoint", token)
	if err := os.MkdirAll(q.persistDir, 0o700); err != nil {
		return fmt.Errorf("create recovery dir: %w", err)
	}
	q.entries = q.entries[:0]
	q.restart = make(map[string]snapshot.MonitorCheckpoint)

	if token == "" {
		q.last = First()
		return removeAllRecoveryState(q.persistDir)
	}

	cp, err := ParseToken(token)
	if err != nil {
		return err
	}
	q.last = cp

	current, err := reduceRecoveryState(q.persistDir)
	if err != nil {
		return err
	}
	state, err := readRecoveryState(current)
	if err != nil {
		return err
	}
	q.entries = append(q.entries, state.Queue...)
	q.restart = state.Monitors
	q.updateRestartPoints()
	return nil
}

// Resume confirms delivery through token, refills from the change source,
// durably persists the result, and returns the queue contents. An empty
// token confirms nothing. Replaying an already-superseded token is
// idempotent against unchanged underlying state.
func (q *Queue) Resume(token string) ([]CheckpointAndChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deactivated {
		return nil, ErrDeactivated
	}

	if err := q.removeCompleted(token); err != nil {
		return nil, err
	}
	q.refill()

	err := writeRecoveryState(q.persistDir, recoveryState{
		Queue:    q.entries,
		Monitors: q.restart,
	})
	if err == nil {
		q.updateRestartPoints()
	}
	// Superseded and broken files go regardless of write success; exactly
	// one complete file must remain.
	if _, reduceErr := reduceRecoveryState(q.persistDir); reduceErr != nil && err == nil {
		err = reduceErr
	}
	if err != nil {
		return nil, err
	}

	return slices.Clone(q.entries), nil
}

// SetMaximumQueueSize adjusts the refill ceiling for future Resume calls.
// An already-larger in-memory queue is never shrunk.
func (q *Queue) SetMaximumQueueSize(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > 0 {
		q.maxSize = n
	}
}

// MonitorRestartPoints returns a snapshot copy of the per-monitor
// guarantee map.
func (q *Queue) MonitorRestartPoints() map[string]snapshot.MonitorCheckpoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	points := make(map[string]snapshot.MonitorCheckpoint, len(q.restart))
	for name, cp := range q.restart {
		points[name] = cp
	}
	return points
}

// Clean removes all persisted recovery state, forcing the next Start to
// begin from scratch.
func (q *Queue) Clean() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := removeAllRecoveryState(q.persistDir); err != nil {
		return err
	}
	if err := os.Remove(q.persistDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove recovery dir: %w", err)
	}
	return nil
}

// Deactivate permanently disables the queue; every subsequent operation
// fails with ErrDeactivated.
func (q *Queue) Deactivate() {
	q.mu.Lock()
	q.deactivated = true
	q.mu.Unlock()
}

// removeCompleted drops entries with checkpoint at or below the confirmed
// token. Entries are checkpoint-ordered, so removal stops at the first
// pending entry.
func (q *Queue) removeCompleted(token string) error {
	if token == "" {
		return nil
	}
	confirmed, err := ParseToken(token)
	if err != nil {
		return err
	}
	done := 0
	for done < len(q.entries) && q.entries[done].Checkpoint.Compare(confirmed) <= 0 {
		done++
	}
	q.entries = slices.Delete(q.entries, 0, done)
	return nil
}

// refill pulls new changes until the queue reaches maxSize or the source
// is exhausted, assigning each a strictly increasing checkpoint.
func (q *Queue) refill() {
	if len(q.entries) < q.maxSize {
		q.last = q.last.NextMajor()
	}
	for len(q.entries) < q.maxSize {
		c, ok := q.source.Next()
		if !ok {
			break
		}
		q.last = q.last.Next()
		q.entries = append(q.entries, CheckpointAndChange{Checkpoint: q.last, Change: c})
	}
}

// updateRestartPoints advances the restart map for every entry that has
// become guaranteed by durable persistence.
func (q *Queue) updateRestartPoints() {
	for _, e := range q.entries {
		cp := e.Change.Checkpoint
		q.restart[cp.MonitorName] = cp
	}
}
