// Package monitor implements the per-root scan/diff/emit loops and the
// manager that orchestrates them. Each monitored root gets one goroutine
// that scans the tree, writes a new snapshot, diffs it against the previous
// one, and emits the resulting changes into the shared aggregator.
package monitor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/drift/internal/filter"
)

// ErrAccessDenied is surfaced when a whole root is unreadable. The affected
// monitor does not advance past the failure; transient per-entry errors are
// skipped instead.
var ErrAccessDenied = errors.New("access denied")

// Entry is one listed filesystem object with the metadata and content
// checksum the snapshot layer records.
type Entry struct {
	Path     string
	Dir      bool
	ModTime  time.Time
	Size     int64
	Checksum string
}

// Lister produces a path-sorted listing of a root with metadata and content
// checksums. Implementations skip entries that vanish or are momentarily
// denied mid-scan and abort only on whole-root failures.
type Lister interface {
	List(ctx context.Context, root string) ([]Entry, error)
}

// FSLister lists a local directory tree. Content checksums are BLAKE3 over
// the full file contents.
type FSLister struct {
	Filters *filter.Chain
}

// List implements Lister. Results are sorted by path.
func (l *FSLister) List(ctx context.Context, root string) ([]Entry, error) {
	if _, err := os.Lstat(root); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, root)
		}
		return nil, fmt.Errorf("list root %s: %w", root, err)
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				if errors.Is(err, fs.ErrPermission) {
					return fmt.Errorf("%w: %s", ErrAccessDenied, root)
				}
				return err
			}
			// Vanished or momentarily denied entry: skip it and let the
			// next scan cycle pick it up.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if l.Filters != nil && !l.Filters.Match(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			info, infoErr := d.Info()
			if infoErr != nil {
				return skipTransient(infoErr, true)
			}
			entries = append(entries, Entry{
				Path:    path,
				Dir:     true,
				ModTime: info.ModTime(),
			})
		case d.Type().IsRegular():
			info, infoErr := d.Info()
			if infoErr != nil {
				return skipTransient(infoErr, false)
			}
			atime, haveAtime := accessTime(info)
			sum, sumErr := checksumFile(path)
			if sumErr != nil {
				return skipTransient(sumErr, false)
			}
			if haveAtime {
				// Hashing read the content; put the original atime back so
				// monitoring stays invisible to atime-based tooling. Best
				// effort: a failed restore never fails the scan.
				_ = restoreAccessTime(path, atime, info.ModTime())
			}
			entries = append(entries, Entry{
				Path:     path,
				ModTime:  info.ModTime(),
				Size:     info.Size(),
				Checksum: sum,
			})
		default:
			// Symlinks, devices, and sockets are not indexable documents.
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Path, b.Path)
	})
	return entries, nil
}

func skipTransient(err error, isDir bool) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		if isDir {
			return fs.SkipDir
		}
		return nil
	}
	return err
}

// checksumFile computes the BLAKE3 hash of the file at path, returning the
// hex-encoded digest.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
