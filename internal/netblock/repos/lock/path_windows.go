//go:build windows

package lock

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the lock file location used when none is configured.
// The ProgramData subdirectory is created on first Acquire.
func DefaultPath() string {
	base := os.Getenv("ProgramData")
	if base == "" {
		base = `C:\ProgramData`
	}
	return filepath.Join(base, "adobe-netblock", "netblock.lock")
}
