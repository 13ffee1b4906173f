package monitor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/drift/internal/change"
	"github.com/bamsammich/drift/internal/queue"
	"github.com/bamsammich/drift/internal/snapshot"
	"github.com/bamsammich/drift/internal/stats"
)

// DefaultScanInterval paces scan cycles when the config does not say
// otherwise.
const DefaultScanInterval = 10 * time.Second

// defaultAggregatorCapacity bounds how many changes monitors may buffer
// ahead of the consumer before back-pressure stalls scanning.
const defaultAggregatorCapacity = 1000

// Config describes a monitor manager.
type Config struct {
	Roots              []string
	StateDir           string
	Lister             Lister
	ScanInterval       time.Duration
	AggregatorCapacity int
	Stats              *stats.Collector
}

// Manager orchestrates one monitor goroutine per root plus the shared
// aggregator and checkpoint queue. Snapshot state lives under
// <StateDir>/snapshots/<monitor>, recovery state under <StateDir>/queue.
type Manager struct {
	cfg    Config
	agg    *change.Aggregator
	queue  *queue.Queue
	stores map[string]*snapshot.Store
	names  map[string]string // root -> monitor name

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	threads atomic.Int32
	seqs    map[string]uint64 // last minor seq per monitor
}

// NewManager builds the manager, its stores, and its queue. No goroutines
// start until Start.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.AggregatorCapacity <= 0 {
		cfg.AggregatorCapacity = defaultAggregatorCapacity
	}
	if cfg.Lister == nil {
		cfg.Lister = &FSLister{}
	}
	if cfg.Stats == nil {
		cfg.Stats = &stats.Collector{}
	}

	agg := change.NewAggregator(cfg.AggregatorCapacity)
	q, err := queue.New(agg, filepath.Join(cfg.StateDir, "queue"))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		agg:    agg,
		queue:  q,
		stores: make(map[string]*snapshot.Store, len(cfg.Roots)),
		names:  make(map[string]string, len(cfg.Roots)),
		seqs:   make(map[string]uint64),
	}
	for _, root := range cfg.Roots {
		name := MonitorName(root)
		store, err := snapshot.NewStore(filepath.Join(cfg.StateDir, "snapshots", name))
		if err != nil {
			return nil, err
		}
		m.stores[name] = store
		m.names[root] = name
	}
	return m, nil
}

// Queue returns the manager's checkpoint-and-change queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Start initializes the queue from the given checkpoint token, derives each
// monitor's resume point from the persisted restart state, stitches
// interrupted snapshot stores, and launches one goroutine per root. It is
// an idempotent no-op when already running.
func (m *Manager) Start(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	if err := m.queue.Start(token); err != nil {
		return err
	}
	points := m.queue.MonitorRestartPoints()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, root := range m.cfg.Roots {
		name := m.names[root]
		store := m.stores[name]

		var startSeq uint64
		if cp, ok := points[name]; ok {
			startSeq = cp.MinorSeq
			recoverStore(store, cp)
		}

		mon := newMonitor(name, root, store, m.cfg.Lister, m.agg,
			m.cfg.ScanInterval, m.cfg.Stats, startSeq)
		m.wg.Add(1)
		m.threads.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.threads.Add(-1)
			mon.Run(ctx)
		}()
		slog.Info("monitor started", "monitor", name, "root", root)
	}

	m.running = true
	return nil
}

// recoverStore reconciles a snapshot store with the restart point loaded
// from recovery state. If stitching fails, every snapshot past the
// checkpointed one is dropped so the next diff runs against the
// checkpointed snapshot itself and re-delivers the outstanding changes.
// Diffing against a newer snapshot instead would silently swallow them.
// The guarantee is accepted on both paths: it only releases snapshots
// below the checkpointed number, which neither path reads again.
func recoverStore(store *snapshot.Store, cp snapshot.MonitorCheckpoint) {
	if err := snapshot.Stitch(store.Dir(), cp); err != nil {
		slog.Warn("stitch failed, rolling back to checkpointed snapshot",
			"monitor", cp.MonitorName, "error", err)
		if err := store.DeleteSnapshotsAfter(cp.SnapshotNumber); err != nil {
			slog.Error("snapshot rollback failed",
				"monitor", cp.MonitorName, "error", err)
		}
	}
	store.AcceptGuarantee(cp)
}

// Stop signals all monitors to finish their current cycle and joins them.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
	slog.Info("all monitors stopped")
}

// Clean stops all monitors and deletes every piece of persisted snapshot
// and recovery state, forcing the next Start to rescan from the beginning.
func (m *Manager) Clean() error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(m.cfg.StateDir, "snapshots")); err != nil {
		return fmt.Errorf("remove snapshot state: %w", err)
	}
	if err := m.queue.Clean(); err != nil {
		return err
	}
	// Stores keep operating against their (now recreated) directories.
	for name, store := range m.stores {
		fresh, err := snapshot.NewStore(store.Dir())
		if err != nil {
			return err
		}
		m.stores[name] = fresh
	}
	return nil
}

// IsRunning reports whether monitors are active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ThreadCount returns the number of live monitor goroutines.
func (m *Manager) ThreadCount() int {
	return int(m.threads.Load())
}

// AcceptGuarantees forwards per-monitor delivery guarantees to the owning
// snapshot stores, unlocking GC of superseded snapshots.
func (m *Manager) AcceptGuarantees(points map[string]snapshot.MonitorCheckpoint) {
	for name, cp := range points {
		if store, ok := m.stores[name]; ok {
			store.AcceptGuarantee(cp)
		}
	}
}

// MonitorName derives a stable monitor name from a root path: the base name
// for readability plus a short content hash for uniqueness.
func MonitorName(root string) string {
	sum := blake3.Sum256([]byte(root))
	return fmt.Sprintf("%s-%s", filepath.Base(root), hex.EncodeToString(sum[:4]))
}
