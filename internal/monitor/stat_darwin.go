//go:build darwin

package monitor

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// accessTime extracts the access time from a stat result.
func accessTime(info os.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec), true
}

// restoreAccessTime puts atime back on path. Darwin lacks UTIME_OMIT, so
// mtime is rewritten with its captured value.
func restoreAccessTime(path string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, times, 0)
}
