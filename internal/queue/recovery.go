package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/drift/internal/snapshot"
)

const (
	recoveryPrefix = "recovery."

	// completionMarker terminates a trustworthy recovery file. A file
	// without it was interrupted mid-write and must be discarded.
	completionMarker = "\n#COMPLETE"
)

// ErrRecoveryCorrupt marks unrecoverable persisted state: the caller must
// reset with Clean rather than resume silently.
var ErrRecoveryCorrupt = errors.New("recovery state corrupt")

// recoveryState is the single self-describing record held by a recovery
// file: the full queue plus the per-monitor restart map.
type recoveryState struct {
	Queue    []CheckpointAndChange                 `json:"queue"`
	Monitors map[string]snapshot.MonitorCheckpoint `json:"monitors"`
}

// recoveryFile is one on-disk recovery file, named with a monotonically
// increasing time-derived suffix.
type recoveryFile struct {
	path  string
	stamp int64
}

func (f recoveryFile) olderThan(o recoveryFile) bool { return f.stamp < o.stamp }

func parseRecoveryFile(path string) (recoveryFile, error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, recoveryPrefix) {
		return recoveryFile{}, fmt.Errorf("%w: invalid recovery filename %s", ErrRecoveryCorrupt, path)
	}
	stamp, err := strconv.ParseInt(strings.TrimPrefix(base, recoveryPrefix), 10, 64)
	if err != nil {
		return recoveryFile{}, fmt.Errorf("%w: invalid recovery filename %s", ErrRecoveryCorrupt, path)
	}
	return recoveryFile{path: path, stamp: stamp}, nil
}

func listRecoveryFiles(dir string) ([]recoveryFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list recovery dir: %w", err)
	}
	var files []recoveryFile
	for _, e := range entries {
		rf, err := parseRecoveryFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, rf)
	}
	return files, nil
}

// writeRecoveryState durably persists state to a fresh recovery file:
// marshal, append the completion marker, fsync, close. The previous file
// stays on disk until the new one is confirmed complete.
func writeRecoveryState(dir string, state recoveryState) error {
	rf := recoveryFile{stamp: time.Now().UnixNano()}
	rf.path = filepath.Join(dir, recoveryPrefix+strconv.FormatInt(rf.stamp, 10))

	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode recovery state: %w", err)
	}

	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create recovery file: %w", err)
	}
	if _, err := f.Write(append(body, completionMarker...)); err != nil {
		f.Close()
		return fmt.Errorf("write recovery file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync recovery file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close recovery file: %w", err)
	}
	return nil
}

// readRecoveryState loads and validates one recovery file. A missing
// completion marker or malformed body is reported as corruption.
func readRecoveryState(rf recoveryFile) (recoveryState, error) {
	contents, err := os.ReadFile(rf.path)
	if err != nil {
		return recoveryState{}, fmt.Errorf("read recovery file: %w", err)
	}
	if !bytes.HasSuffix(contents, []byte(completionMarker)) {
		return recoveryState{}, fmt.Errorf("%w: missing completion marker in %s", ErrRecoveryCorrupt, rf.path)
	}
	body := bytes.TrimSuffix(contents, []byte(completionMarker))
	var state recoveryState
	if err := json.Unmarshal(body, &state); err != nil {
		return recoveryState{}, fmt.Errorf("%w: malformed record in %s: %v", ErrRecoveryCorrupt, rf.path, err)
	}
	if state.Monitors == nil {
		state.Monitors = make(map[string]snapshot.MonitorCheckpoint)
	}
	return state, nil
}

func isComplete(rf recoveryFile) bool {
	_, err := readRecoveryState(rf)
	return err == nil
}

func deleteLogged(rf recoveryFile) {
	if err := os.Remove(rf.path); err != nil {
		slog.Error("failed to delete recovery file", "path", rf.path, "error", err)
	}
}

// reduceRecoveryState leaves at most one recovery file in dir and returns
// it. Exactly one complete file must exist among at most two candidates:
// zero complete files is corruption; with two complete files the newer by
// timestamp wins; incomplete files are deleted and logged.
func reduceRecoveryState(dir string) (recoveryFile, error) {
	files, err := listRecoveryFiles(dir)
	if err != nil {
		return recoveryFile{}, err
	}

	switch len(files) {
	case 0:
		return recoveryFile{}, fmt.Errorf("%w: no recovery state to reduce to", ErrRecoveryCorrupt)
	case 1:
		rf := files[0]
		if !isComplete(rf) {
			deleteLogged(rf)
			return recoveryFile{}, fmt.Errorf("%w: found incomplete recovery file %s", ErrRecoveryCorrupt, rf.path)
		}
		return rf, nil
	case 2:
		one, two := files[0], files[1]
		oneOK, twoOK := isComplete(one), isComplete(two)
		switch {
		case oneOK && twoOK:
			if one.olderThan(two) {
				deleteLogged(one)
				return two, nil
			}
			deleteLogged(two)
			return one, nil
		case oneOK:
			slog.Warn("discarding incomplete recovery file", "path", two.path)
			deleteLogged(two)
			return one, nil
		case twoOK:
			slog.Warn("discarding incomplete recovery file", "path", one.path)
			deleteLogged(one)
			return two, nil
		default:
			deleteLogged(one)
			deleteLogged(two)
			return recoveryFile{}, fmt.Errorf("%w: two broken recovery files", ErrRecoveryCorrupt)
		}
	default:
		return recoveryFile{}, fmt.Errorf("%w: found %d recovery files", ErrRecoveryCorrupt, len(files))
	}
}

// removeAllRecoveryState deletes every recovery file in dir.
func removeAllRecoveryState(dir string) error {
	files, err := listRecoveryFiles(dir)
	if err != nil {
		return err
	}
	var failed []string
	for _, rf := range files {
		if err := os.Remove(rf.path); err != nil {
			failed = append(failed, rf.path)
		}
	}
	if len(failed) != 0 {
		return fmt.Errorf("failed to delete recovery files: %v", failed)
	}
	return nil
}
