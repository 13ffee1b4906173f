//go:build linux

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
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec), true
}

// restoreAccessTime puts atime back on path. mtime is left untouched via
// UTIME_OMIT.
func restoreAccessTime(path string, atime, _ time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		{Nsec: unix.UTIME_OMIT},
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, times, 0)
}
