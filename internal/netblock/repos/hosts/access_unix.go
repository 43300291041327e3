//go:build unix

package hosts

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// checkWritable probes write access with access(2) so a missing privilege is
// reported before any temp file exists. Directories also need search access.
func checkWritable(path string, isDir bool) error {
	mode := uint32(unix.W_OK)
	if isDir {
		mode |= unix.X_OK
	}
	if err := unix.Access(path, mode); err != nil {
		return &os.PathError{Op: "access", Path: path, Err: err}
	}
	return nil
}

// preserveOwner copies the target's uid/gid onto the replacement. Failures are
// ignored: only root can chown, and root already owns what it creates.
func preserveOwner(tmpPath, target string) {
	info, err := os.Stat(target)
	if err != nil {
		return
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Chown(tmpPath, int(st.Uid), int(st.Gid))
}

// syncDir flushes the directory entry so the rename survives a crash.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
