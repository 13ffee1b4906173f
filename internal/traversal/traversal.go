// Package traversal is the consumer-facing surface of the change feed. It
// converts queue batches into client-visible iteration and owns the
// handle-invalidation rule: only the most recently issued traverser may
// drive the system.
package traversal

import (
	"errors"
	"sync"

	"github.com/bamsammich/drift/internal/monitor"
	"github.com/bamsammich/drift/internal/queue"
)

// ErrInactive is returned by every operation on a superseded traverser.
var ErrInactive = errors.New("inactive traverser referenced")

// Service hands out traversers over one monitor manager. Issuing a new
// traverser bumps the generation and invalidates all previously issued
// handles.
type Service struct {
	mu         sync.Mutex
	generation uint64
	manager    *monitor.Manager
}

// NewService creates a traversal service over manager.
func NewService(m *monitor.Manager) *Service {
	return &Service{manager: m}
}

// Traverser issues the new current handle. Any handle issued earlier fails
// every call with ErrInactive from now on.
func (s *Service) Traverser() *Traverser {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return &Traverser{svc: s, gen: s.generation}
}

// Traverser drives traversal for one consumer. The checkpoint tokens it
// returns are opaque persistable text; replaying a superseded token is
// idempotent, not an error.
type Traverser struct {
	svc *Service
	gen uint64
}

// Batch is one delivered slice of the change stream.
type Batch struct {
	Entries []queue.CheckpointAndChange
}

// Checkpoint returns the token to persist after processing the whole
// batch: the checkpoint of the final entry. ok is false for an empty
// batch, in which case the consumer keeps its previous token.
func (b Batch) Checkpoint() (token string, ok bool) {
	if len(b.Entries) == 0 {
		return "", false
	}
	return b.Entries[len(b.Entries)-1].Checkpoint.Token(), true
}

func (t *Traverser) active() bool {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()
	return t.gen == t.svc.generation
}

// SetBatchHint adjusts the maximum batch size for future ResumeTraversal
// calls.
func (t *Traverser) SetBatchHint(n int) error {
	if !t.active() {
		return ErrInactive
	}
	t.svc.manager.Queue().SetMaximumQueueSize(n)
	return nil
}

// StartTraversal resets all persisted state and begins again from the
// canonical first checkpoint.
func (t *Traverser) StartTraversal() (Batch, error) {
	if !t.active() {
		return Batch{}, ErrInactive
	}
	t.svc.manager.Stop()
	if err := t.svc.manager.Clean(); err != nil {
		return Batch{}, err
	}
	return t.ResumeTraversal("")
}

// ResumeTraversal confirms delivery through token (empty means from the
// beginning), lazily starts the monitors if needed, and returns the next
// batch. The guarantees made durable by this call are forwarded upstream so
// snapshot GC can advance.
func (t *Traverser) ResumeTraversal(token string) (Batch, error) {
	if !t.active() {
		return Batch{}, ErrInactive
	}

	mgr := t.svc.manager
	if !mgr.IsRunning() {
		if err := mgr.Start(token); err != nil {
			return Batch{}, err
		}
	}

	entries, err := mgr.Queue().Resume(token)
	if err != nil {
		return Batch{}, err
	}
	mgr.AcceptGuarantees(mgr.Queue().MonitorRestartPoints())
	return Batch{Entries: entries}, nil
}
