package snapshot

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, store *Store, paths []string, modTime int64) {
	t.Helper()
	w, err := store.OpenNewWriter()
	require.NoError(t, err)
	for _, p := range paths {
		require.NoError(t, w.Write(testRecord(p, modTime)))
	}
	require.NoError(t, store.Close(nil, w))
}

func readAll(t *testing.T, store *Store) (uint64, []Record) {
	t.Helper()
	r, err := store.OpenMostRecentReader()
	require.NoError(t, err)
	defer store.Close(r, nil)

	var recs []Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return r.Number(), recs
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
}

// A crash after delivering the first 7 changes of the newest diff leaves a
// checkpoint for (snapshot 1, record 7). The stitched snapshot must carry the
// newer version of the delivered prefix and the older version of everything
// else, so that a fresh diff re-delivers exactly the outstanding records.
func TestStitch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	const n = 100
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/foo/file.%03d", i)
	}

	writeSnapshot(t, store, paths, 1000) // snap.1
	writeSnapshot(t, store, paths, 2000) // snap.2

	cp := MonitorCheckpoint{
		MonitorName:    "foo",
		SnapshotNumber: 1,
		RecordIndex:    7,
		MinorSeq:       7,
	}
	require.NoError(t, Stitch(dir, cp))

	number, recs := readAll(t, store)
	assert.Equal(t, uint64(3), number)
	require.Len(t, recs, n)
	for i, rec := range recs {
		assert.Equal(t, paths[i], rec.Path)
		want := int64(1000)
		if i < 7 {
			want = 2000
		}
		assert.Equal(t, want, rec.ModTime, "record %d", i)
	}
}

// A checkpoint against snapshot 0 means only the very first scan's changes
// were partially delivered. The older side is the implicit empty snapshot.
func TestStitchFirstScan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	writeSnapshot(t, store, []string{"/a", "/b", "/c", "/d"}, 500) // snap.1

	cp := MonitorCheckpoint{MonitorName: "foo", SnapshotNumber: 0, RecordIndex: 2, MinorSeq: 2}
	require.NoError(t, Stitch(dir, cp))

	number, recs := readAll(t, store)
	assert.Equal(t, uint64(2), number)
	require.Len(t, recs, 2)
	assert.Equal(t, "/a", recs[0].Path)
	assert.Equal(t, "/b", recs[1].Path)
}

// Deletes can push the delivered record index past the end of the older
// snapshot. Stitching must tolerate the short older side.
func TestStitchOlderShorterThanPrefix(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	writeSnapshot(t, store, []string{"/a", "/b"}, 1000)                  // snap.1
	writeSnapshot(t, store, []string{"/a", "/b", "/c", "/d", "/e"}, 2000) // snap.2

	cp := MonitorCheckpoint{MonitorName: "foo", SnapshotNumber: 1, RecordIndex: 4, MinorSeq: 4}
	require.NoError(t, Stitch(dir, cp))

	number, recs := readAll(t, store)
	assert.Equal(t, uint64(3), number)
	require.Len(t, recs, 4)
	for i, p := range []string{"/a", "/b", "/c", "/d"} {
		assert.Equal(t, p, recs[i].Path)
		assert.Equal(t, int64(2000), recs[i].ModTime)
	}
}

func TestStitchMissingNewerSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	writeSnapshot(t, store, []string{"/a"}, 1000) // snap.1

	cp := MonitorCheckpoint{MonitorName: "foo", SnapshotNumber: 1, RecordIndex: 1}
	assert.Error(t, Stitch(dir, cp))

	// Nothing new was published.
	numbers, err := snapshotNumbers(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, numbers)
}
