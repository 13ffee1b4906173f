package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/drift/internal/change"
	"github.com/bamsammich/drift/internal/snapshot"
	"github.com/bamsammich/drift/internal/stats"
)

func testMonitor(t *testing.T, root string) (*Monitor, *change.Aggregator) {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)
	agg := change.NewAggregator(100)
	m := newMonitor("test", root, store, &FSLister{}, agg,
		time.Millisecond, &stats.Collector{}, 0)
	return m, agg
}

func drain(agg *change.Aggregator) []change.Change {
	var out []change.Change
	for {
		c, ok := agg.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestCycleFirstScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1", "b": "2"})

	m, agg := testMonitor(t, root)
	require.NoError(t, m.cycle(context.Background()))

	changes := drain(agg)
	require.Len(t, changes, 2)
	for i, c := range changes {
		assert.Equal(t, change.Add, c.Kind)
		assert.Equal(t, "test", c.Checkpoint.MonitorName)
		// The first diff pair is (implicit empty snapshot, snapshot 1).
		assert.Equal(t, uint64(0), c.Checkpoint.SnapshotNumber)
		assert.Equal(t, i+1, c.Checkpoint.RecordIndex)
		assert.Equal(t, uint64(i+1), c.Checkpoint.MinorSeq)
	}
	assert.Equal(t, filepath.Join(root, "a"), changes[0].Record.Path)
	assert.Equal(t, filepath.Join(root, "b"), changes[1].Record.Path)
}

func TestCycleQuiescentTreeEmitsNothing(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1"})

	m, agg := testMonitor(t, root)
	require.NoError(t, m.cycle(context.Background()))
	drain(agg)

	require.NoError(t, m.cycle(context.Background()))
	assert.Empty(t, drain(agg))
}

func TestCycleDetectsModifyAndDelete(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1", "b": "2"})

	m, agg := testMonitor(t, root)
	require.NoError(t, m.cycle(context.Background()))
	first := drain(agg)
	require.Len(t, first, 2)

	writeTree(t, root, map[string]string{"a": "changed"})
	require.NoError(t, os.Remove(filepath.Join(root, "b")))
	require.NoError(t, m.cycle(context.Background()))

	second := drain(agg)
	require.Len(t, second, 2)
	assert.Equal(t, change.Modify, second[0].Kind)
	assert.Equal(t, filepath.Join(root, "a"), second[0].Record.Path)
	assert.Equal(t, change.Delete, second[1].Kind)
	assert.Equal(t, filepath.Join(root, "b"), second[1].Record.Path)

	// Second diff pair is (snapshot 1, snapshot 2); minor sequence keeps
	// counting across cycles.
	for i, c := range second {
		assert.Equal(t, uint64(1), c.Checkpoint.SnapshotNumber)
		assert.Equal(t, uint64(len(first)+i+1), c.Checkpoint.MinorSeq)
	}
}

// An empty tree is a valid cycle: a snapshot is still published so the
// monitor's position is checkpointable.
func TestCycleEmptyTree(t *testing.T) {
	m, agg := testMonitor(t, t.TempDir())
	require.NoError(t, m.cycle(context.Background()))
	assert.Empty(t, drain(agg))

	r, err := m.store.OpenMostRecentReader()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Number())
	require.NoError(t, m.store.Close(r, nil))
}

// A root that becomes unreadable halts the monitor's position: the cycle
// fails with ErrAccessDenied, no snapshot is published, and once access
// returns the monitor resumes from where it stopped without re-emitting.
func TestCycleDeniedRootHoldsPosition(t *testing.T) {
	skipIfRoot(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1"})

	m, agg := testMonitor(t, root)
	require.NoError(t, m.cycle(context.Background()))
	require.Len(t, drain(agg), 1)

	require.NoError(t, os.Chmod(root, 0o000))
	t.Cleanup(func() { os.Chmod(root, 0o755) })

	err := m.cycle(context.Background())
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, drain(agg))

	r, err := m.store.OpenMostRecentReader()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Number(), "failed cycle must not publish a snapshot")
	require.NoError(t, m.store.Close(r, nil))

	require.NoError(t, os.Chmod(root, 0o755))
	require.NoError(t, m.cycle(context.Background()))
	assert.Empty(t, drain(agg), "held position means nothing to re-emit")
}

func TestCycleMissingRootFails(t *testing.T) {
	m, _ := testMonitor(t, filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, m.cycle(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	m, agg := testMonitor(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Let at least one cycle complete before canceling.
	assert.Eventually(t, func() bool {
		r, err := m.store.OpenMostRecentReader()
		if err != nil {
			return false
		}
		defer m.store.Close(r, nil)
		return r.Number() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	drain(agg)
}
