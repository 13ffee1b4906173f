// Package change defines the change events produced by diffing two adjacent
// snapshots of a monitored root, and the fan-in buffer that aggregates
// per-monitor change streams for the checkpoint queue.
package change

import "github.com/bamsammich/drift/internal/snapshot"

// Kind identifies the kind of change.
type Kind int

const (
	Add Kind = iota + 1
	Delete
	Modify
)

var kindNames = [...]string{
	Add:    "ADD",
	Delete: "DELETE",
	Modify: "MODIFY",
}

func (k Kind) String() string {
	if int(k) > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Change is a single difference between snapshot N-1 and snapshot N of one
// monitored root. The monitor checkpoint records exactly how far the owning
// monitor had emitted when this change was produced.
type Change struct {
	Checkpoint snapshot.MonitorCheckpoint `json:"checkpoint"`
	Kind       Kind                       `json:"kind"`
	Record     snapshot.Record            `json:"record"`
}
