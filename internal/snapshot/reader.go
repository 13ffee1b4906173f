package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Reader streams records from one snapshot file in the order they were
// written. Read returns io.EOF at a clean end-of-stream and ErrCorrupt for
// malformed data.
//
// A Reader over an empty store (snapshot number 0) is valid: its first Read
// returns io.EOF.
type Reader struct {
	f      *os.File
	dec    *zstd.Decoder
	number uint64
	index  int
}

func newReader(path string, number uint64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %d: %w", number, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open snapshot %d decoder: %w", number, err)
	}
	return &Reader{f: f, dec: dec, number: number}, nil
}

// emptyReader returns a reader with no backing file; every Read is io.EOF.
func emptyReader() *Reader {
	return &Reader{}
}

// Read returns the next record, or io.EOF once the snapshot is exhausted.
func (r *Reader) Read() (Record, error) {
	if r.dec == nil {
		return Record{}, io.EOF
	}
	payload, err := readFrame(r.dec)
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fmt.Errorf("snapshot %d record %d: %w", r.number, r.index, err)
	}
	rec, err := decodeRecord(payload)
	if err != nil {
		return Record{}, fmt.Errorf("snapshot %d record %d: %w", r.number, r.index, err)
	}
	r.index++
	return rec, nil
}

// Number returns the snapshot number, 0 for the empty reader.
func (r *Reader) Number() uint64 { return r.number }

// Index returns how many records have been read so far.
func (r *Reader) Index() int { return r.index }

func (r *Reader) close() error {
	if r.dec == nil {
		return nil
	}
	r.dec.Close()
	return r.f.Close()
}
