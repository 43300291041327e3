//go:build !unix && !windows

package hosts

func checkWritable(string, bool) error { return nil }

func preserveOwner(string, string) {}

func syncDir(string) {}
