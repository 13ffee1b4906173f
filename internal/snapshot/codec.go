package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/tinylib/msgp/msgp"
)

const (
	// frameHeaderSize is the size of the frame header in bytes:
	// 4 bytes payload length + 8 bytes xxhash of the payload.
	frameHeaderSize = 12

	// maxFrameSize bounds a single encoded record. A record holds one path
	// plus fixed metadata, so anything near this limit is corruption.
	maxFrameSize = 1 << 20 // 1 MB

	// recordFieldCount is the number of encoded fields per record.
	recordFieldCount = 8
)

// ErrCorrupt is returned when a snapshot file contains a malformed or
// truncated record. It is distinct from io.EOF, which marks a clean
// end-of-stream at a frame boundary.
var ErrCorrupt = errors.New("snapshot: corrupt record")

// appendRecord encodes r as a msgpack array and appends it to buf.
func appendRecord(buf []byte, r Record) []byte {
	buf = msgp.AppendArrayHeader(buf, recordFieldCount)
	buf = msgp.AppendString(buf, r.FSType)
	buf = msgp.AppendString(buf, r.Path)
	buf = msgp.AppendUint8(buf, uint8(r.Type))
	buf = msgp.AppendInt64(buf, r.ModTime)
	buf = msgp.AppendArrayHeader(buf, uint32(len(r.ACL)))
	for _, p := range r.ACL {
		buf = msgp.AppendString(buf, p)
	}
	buf = msgp.AppendString(buf, r.Checksum)
	buf = msgp.AppendInt64(buf, r.Size)
	buf = msgp.AppendBool(buf, r.Stable)
	return buf
}

// decodeRecord decodes one msgpack-encoded record from b.
func decodeRecord(b []byte) (Record, error) {
	var rec Record
	var err error

	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || n != recordFieldCount {
		return Record{}, fmt.Errorf("%w: bad field count", ErrCorrupt)
	}
	if rec.FSType, b, err = msgp.ReadStringBytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: fs type: %v", ErrCorrupt, err)
	}
	if rec.Path, b, err = msgp.ReadStringBytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: path: %v", ErrCorrupt, err)
	}
	var typ uint8
	if typ, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: type: %v", ErrCorrupt, err)
	}
	rec.Type = RecordType(typ)
	if rec.ModTime, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: mod time: %v", ErrCorrupt, err)
	}
	var aclLen uint32
	if aclLen, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: acl header: %v", ErrCorrupt, err)
	}
	if aclLen > 0 {
		rec.ACL = make([]string, aclLen)
		for i := range rec.ACL {
			if rec.ACL[i], b, err = msgp.ReadStringBytes(b); err != nil {
				return Record{}, fmt.Errorf("%w: acl entry: %v", ErrCorrupt, err)
			}
		}
	}
	if rec.Checksum, b, err = msgp.ReadStringBytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: checksum: %v", ErrCorrupt, err)
	}
	if rec.Size, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: size: %v", ErrCorrupt, err)
	}
	if rec.Stable, _, err = msgp.ReadBoolBytes(b); err != nil {
		return Record{}, fmt.Errorf("%w: stable flag: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// writeFrame writes a length-prefixed, checksummed record frame to w.
// Wire format: [4-byte length (big-endian)][8-byte xxhash64][payload].
// Header and payload go out in a single Write call.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("snapshot: record frame exceeds %d bytes", maxFrameSize)
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[4:12], xxhash.Sum64(payload))
	copy(buf[frameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write record frame: %w", err)
	}
	return nil
}

// readFrame reads one record frame from r. It returns io.EOF only when the
// stream ends cleanly at a frame boundary; a truncated header or payload,
// an oversized length, or a checksum mismatch all return ErrCorrupt.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated frame header", ErrCorrupt)
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	if payloadLen == 0 || payloadLen > maxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d", ErrCorrupt, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated frame payload", ErrCorrupt)
	}

	want := binary.BigEndian.Uint64(header[4:12])
	if xxhash.Sum64(payload) != want {
		return nil, fmt.Errorf("%w: frame checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}
