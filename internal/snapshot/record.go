// Package snapshot provides durable, numbered point-in-time listings of a
// monitored directory tree. A store holds sequentially numbered snapshot
// files; each snapshot is an immutable, path-sorted sequence of records
// written in one scan cycle.
package snapshot

import (
	"slices"
	"strings"
)

// RecordType identifies what kind of filesystem object a record describes.
type RecordType uint8

const (
	TypeFile RecordType = iota + 1
	TypeDir
)

var typeNames = [...]string{
	TypeFile: "FILE",
	TypeDir:  "DIR",
}

func (t RecordType) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Record is one observation of a file or directory. Records are immutable
// values; two records are equal only if every field matches.
type Record struct {
	FSType   string     `json:"fs_type"`
	Path     string     `json:"path"`
	Type     RecordType `json:"type"`
	ModTime  int64      `json:"mod_time"` // unix nanoseconds
	ACL      []string   `json:"acl,omitempty"`
	Checksum string     `json:"checksum"`
	Size     int64      `json:"size"`
	Stable   bool       `json:"stable"`
}

// Equal reports whether r and o match in every field.
func (r Record) Equal(o Record) bool {
	return r.FSType == o.FSType &&
		r.Path == o.Path &&
		r.Type == o.Type &&
		r.ModTime == o.ModTime &&
		r.Checksum == o.Checksum &&
		r.Size == o.Size &&
		r.Stable == o.Stable &&
		slices.Equal(r.ACL, o.ACL)
}

// ComparePath orders records by path, the order in which they appear within
// a snapshot. Two snapshots of the same root can be diffed by a single merge
// pass because both are sorted this way.
func (r Record) ComparePath(o Record) int {
	return strings.Compare(r.Path, o.Path)
}
