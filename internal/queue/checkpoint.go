// Package queue implements the durable checkpoint-and-change queue between
// the filesystem monitors and the downstream consumer. Entries stay queued
// until the consumer confirms a checkpoint at or past their own; queue
// contents and per-monitor restart state are persisted to recovery files so
// a crash never loses or duplicates confirmed work.
package queue

import (
	"encoding/json"
	"fmt"
)

// Checkpoint is the global position token assigned at enqueue time. Major
// increments once per refill cycle, Minor once per appended change, so
// checkpoints strictly increase for the queue's lifetime and order enqueue
// time. Its token form is opaque persistable text.
type Checkpoint struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
}

// First returns the canonical smallest checkpoint.
func First() Checkpoint { return Checkpoint{} }

// Next returns the checkpoint for the next appended change.
func (c Checkpoint) Next() Checkpoint {
	return Checkpoint{Major: c.Major, Minor: c.Minor + 1}
}

// NextMajor returns the checkpoint opening the next refill cycle.
func (c Checkpoint) NextMajor() Checkpoint {
	return Checkpoint{Major: c.Major + 1}
}

// Compare returns -1, 0, or 1 as c orders before, equal to, or after o.
func (c Checkpoint) Compare(o Checkpoint) int {
	switch {
	case c.Major < o.Major:
		return -1
	case c.Major > o.Major:
		return 1
	case c.Minor < o.Minor:
		return -1
	case c.Minor > o.Minor:
		return 1
	}
	return 0
}

// Token serializes the checkpoint to its opaque text form.
func (c Checkpoint) Token() string {
	b, err := json.Marshal(c)
	if err != nil {
		// Marshaling a pair of integers cannot fail.
		panic(err)
	}
	return string(b)
}

// ParseToken reverses Token.
func ParseToken(token string) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal([]byte(token), &c); err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint token %q: %w", token, err)
	}
	return c, nil
}
