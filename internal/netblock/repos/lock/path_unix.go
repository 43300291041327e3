//go:build unix

package lock

// DefaultPath returns the lock file location used when none is configured.
// /var/run is writable only by root.
func DefaultPath() string {
	return "/var/run/adobe-netblock.lock"
}
