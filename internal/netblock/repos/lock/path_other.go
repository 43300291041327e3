//go:build !unix && !windows

package lock

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the lock file location used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "adobe-netblock.lock")
}
