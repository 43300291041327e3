//go:build windows

package hosts

import "os"

// checkWritable opens the target for writing without truncating it. Directory
// ACLs are not probed; a denied create surfaces from the temp file instead.
func checkWritable(path string, isDir bool) error {
	if isDir {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func preserveOwner(string, string) {}

func syncDir(string) {}
