package monitor

import (
	"io"
	"strings"

	"github.com/bamsammich/drift/internal/change"
	"github.com/bamsammich/drift/internal/snapshot"
)

// diffSnapshots merges the previous snapshot stream with the freshly
// scanned records by a single linear pass over both path-sorted sequences.
// A path only in the new scan is an Add, only in the old snapshot a Delete,
// and present in both with differing fields a Modify.
//
// newIndex passed to emit is the count of new-snapshot records covered once
// this change is delivered: it becomes the record index of the monitor
// checkpoint, which is what stitching uses to split delivered from
// undelivered work after a crash.
func diffSnapshots(
	old *snapshot.Reader,
	recs []snapshot.Record,
	emit func(kind change.Kind, rec snapshot.Record, newIndex int) error,
) error {
	i := 0
	oldRec, oldErr := old.Read()

	for {
		switch {
		case oldErr == io.EOF && i >= len(recs):
			return nil

		case oldErr == io.EOF:
			if err := emit(change.Add, recs[i], i+1); err != nil {
				return err
			}
			i++

		case oldErr != nil:
			return oldErr

		case i >= len(recs):
			if err := emit(change.Delete, oldRec, i); err != nil {
				return err
			}
			oldRec, oldErr = old.Read()

		default:
			switch cmp := strings.Compare(oldRec.Path, recs[i].Path); {
			case cmp < 0:
				if err := emit(change.Delete, oldRec, i); err != nil {
					return err
				}
				oldRec, oldErr = old.Read()
			case cmp > 0:
				if err := emit(change.Add, recs[i], i+1); err != nil {
					return err
				}
				i++
			default:
				if !oldRec.Equal(recs[i]) {
					if err := emit(change.Modify, recs[i], i+1); err != nil {
						return err
					}
				}
				i++
				oldRec, oldErr = old.Read()
			}
		}
	}
}
