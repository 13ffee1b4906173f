package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Make sure an empty store yields a valid reader whose first read is
// end-of-stream, not an error.
func TestEmptyStore(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	r, err := store.OpenMostRecentReader()
	require.NoError(t, err)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, uint64(0), r.Number())
	require.NoError(t, store.Close(r, nil))
}

func TestWriteRead(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	before := Record{
		FSType:   "local",
		Path:     "/foo/bar",
		Type:     TypeDir,
		ModTime:  12345,
		ACL:      []string{"d1\\bob", "d1\\tom"},
		Checksum: "check sum",
		Size:     123456,
	}

	w, err := store.OpenNewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Write(before))
	require.NoError(t, store.Close(nil, w))

	r, err := store.OpenMostRecentReader()
	require.NoError(t, err)
	after, err := r.Read()
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
	require.NoError(t, store.Close(r, nil))
}

// openMostRecentReader must always track the highest published snapshot.
func TestMostRecentReader(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for k := 0; k < 10; k++ {
		w, err := store.OpenNewWriter()
		require.NoError(t, err)
		require.NoError(t, w.Write(testRecord(fmt.Sprintf("/foo/bar/%d", k), 12345)))
		require.NoError(t, store.Close(nil, w))

		r, err := store.OpenMostRecentReader()
		require.NoError(t, err)
		assert.Equal(t, uint64(k+1), r.Number())
		rec, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("/foo/bar/%d", k), rec.Path)
		require.NoError(t, store.Close(r, nil))
	}
}

func TestSecondWriterFails(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.OpenNewWriter()
	require.NoError(t, err)

	_, err = store.OpenNewWriter()
	require.ErrorIs(t, err, ErrWriterActive)
	assert.EqualError(t, err, "there is already an active writer")

	require.NoError(t, store.Close(nil, w))

	// Closing releases the slot.
	w2, err := store.OpenNewWriter()
	require.NoError(t, err)
	require.NoError(t, store.Close(nil, w2))
}

// After a run of write/guarantee/GC cycles only the most recent
// max(3, distance-to-oldest-guarantee) snapshots remain on disk.
func TestGarbageCollection(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for k := 0; k < 10; k++ {
		w, err := store.OpenNewWriter()
		require.NoError(t, err)
		require.NoError(t, w.Write(testRecord("/foo", int64(k))))

		guaranteed := uint64(0)
		if k > 0 {
			guaranteed = uint64(k) // one behind the snapshot being written
		}
		store.AcceptGuarantee(MonitorCheckpoint{
			MonitorName:    "foo",
			SnapshotNumber: guaranteed,
			RecordIndex:    2,
			MinorSeq:       1,
		})
		require.NoError(t, store.Close(nil, w))
		require.NoError(t, store.DeleteOldSnapshots())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"snap.8", "snap.9", "snap.10"}, names)
}

func TestGCWithoutGuaranteeKeepsAll(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w, err := store.OpenNewWriter()
		require.NoError(t, err)
		require.NoError(t, store.Close(nil, w))
	}
	require.NoError(t, store.DeleteOldSnapshots())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

// A lagging guarantee holds snapshots beyond the retention floor.
func TestGCRetainsFromOldGuarantee(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		w, err := store.OpenNewWriter()
		require.NoError(t, err)
		require.NoError(t, store.Close(nil, w))
	}
	store.AcceptGuarantee(MonitorCheckpoint{MonitorName: "foo", SnapshotNumber: 2})
	require.NoError(t, store.DeleteOldSnapshots())

	numbers, err := snapshotNumbers(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4, 5, 6, 7, 8}, numbers)
}

func TestDeleteSnapshotsAfter(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w, err := store.OpenNewWriter()
		require.NoError(t, err)
		require.NoError(t, store.Close(nil, w))
	}

	require.NoError(t, store.DeleteSnapshotsAfter(2))
	numbers, err := snapshotNumbers(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, numbers)

	// Numbering resumes from the rollback point.
	w, err := store.OpenNewWriter()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), w.Number())
	require.NoError(t, store.Close(nil, w))
}

func TestAbortLeavesNoSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := store.OpenNewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Write(testRecord("/x", 1)))
	store.Abort(w)

	numbers, err := snapshotNumbers(dir)
	require.NoError(t, err)
	assert.Empty(t, numbers)

	// The writer slot is free again.
	w2, err := store.OpenNewWriter()
	require.NoError(t, err)
	require.NoError(t, store.Close(nil, w2))
}

func TestCorruptSnapshotDetected(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := store.OpenNewWriter()
	require.NoError(t, err)
	for k := 0; k < 5; k++ {
		require.NoError(t, w.Write(testRecord(fmt.Sprintf("/f/%d", k), 1)))
	}
	require.NoError(t, store.Close(nil, w))

	// Truncate the published file mid-stream.
	path := filepath.Join(dir, "snap.1")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)/2], 0o600))

	r, err := store.OpenMostRecentReader()
	if err != nil {
		return // torn zstd header is also an acceptable failure point
	}
	for {
		_, err := r.Read()
		if err == io.EOF {
			t.Fatal("truncated snapshot read to clean EOF")
		}
		if err != nil {
			break
		}
	}
	store.Close(r, nil)
}
