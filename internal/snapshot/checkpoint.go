package snapshot

// MonitorCheckpoint marks exactly how far one monitor has emitted changes:
// records [0, RecordIndex) of snapshot SnapshotNumber+1 have been diffed
// against snapshot SnapshotNumber and the resulting changes handed off.
// MinorSeq increases with every emitted change, making checkpoints from one
// monitor totally ordered even within a single record index.
type MonitorCheckpoint struct {
	MonitorName    string `json:"monitor"`
	SnapshotNumber uint64 `json:"snapshot"`
	RecordIndex    int    `json:"record"`
	MinorSeq       uint64 `json:"seq"`
}

// Compare returns -1, 0, or 1 as c orders before, equal to, or after o.
// Comparing checkpoints from different monitors is meaningless; callers keep
// them segregated by MonitorName.
func (c MonitorCheckpoint) Compare(o MonitorCheckpoint) int {
	switch {
	case c.SnapshotNumber < o.SnapshotNumber:
		return -1
	case c.SnapshotNumber > o.SnapshotNumber:
		return 1
	case c.RecordIndex < o.RecordIndex:
		return -1
	case c.RecordIndex > o.RecordIndex:
		return 1
	case c.MinorSeq < o.MinorSeq:
		return -1
	case c.MinorSeq > o.MinorSeq:
		return 1
	}
	return 0
}
