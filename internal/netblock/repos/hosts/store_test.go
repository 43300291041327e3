package hosts

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

const (
	start = domain.StartMarker
	end   = domain.EndMarker
)

func newTestStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hosts")
	if content != "" {
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return New(Options{Path: p, Logger: log.NewNoopLogger()}), p
}

func testList(domains ...string) domain.BlockList {
	l := domain.BlockList{SourceID: domain.SourceFastly, SourceUpdated: "2024-09-01"}
	for _, d := range domains {
		l.Entries = append(l.Entries, domain.BlockEntry{Domain: d, IP: domain.DefaultSink})
	}
	return l
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func writeList(t *testing.T, s *Store, l domain.BlockList) bool {
	t.Helper()
	doc, err := s.Read()
	require.NoError(t, err)
	changed, err := s.Write(doc, l)
	require.NoError(t, err)
	return changed
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".hosts-netblock-", "leftover temp file")
	}
}

func TestWrite_AppendsBlockAfterBlankLine(t *testing.T) {
	s, p := newTestStore(t, "127.0.0.1 localhost\n::1 localhost")

	assert.True(t, writeList(t, s, testList("a.adobe.io", "b.adobe.io")))

	want := "127.0.0.1 localhost\n::1 localhost\n\n" +
		start + "\n# Last update: 2024-09-01\n0.0.0.0 a.adobe.io\n0.0.0.0 b.adobe.io\n" + end + "\n"
	assert.Equal(t, want, readFile(t, p))
}

func TestWrite_IsIdempotent(t *testing.T) {
	s, p := newTestStore(t, "127.0.0.1 localhost\n")
	l := testList("a.adobe.io")

	require.True(t, writeList(t, s, l))
	first := readFile(t, p)

	assert.False(t, writeList(t, s, l))
	assert.Equal(t, first, readFile(t, p))
}

func TestWrite_PreservesForeignLines(t *testing.T) {
	before := "# my hosts\n10.0.0.1 nas.lan\n" +
		start + "\n0.0.0.0 old.adobe.io\n" + end + "\n" +
		"10.0.0.2 printer.lan   # keep spacing\n"
	s, p := newTestStore(t, before)

	require.True(t, writeList(t, s, testList("new.adobe.io")))

	want := "# my hosts\n10.0.0.1 nas.lan\n" +
		start + "\n# Last update: 2024-09-01\n0.0.0.0 new.adobe.io\n" + end + "\n" +
		"10.0.0.2 printer.lan   # keep spacing\n"
	assert.Equal(t, want, readFile(t, p))
}

func TestWrite_KeepsCRLF(t *testing.T) {
	s, p := newTestStore(t, "127.0.0.1 localhost\r\n")

	require.True(t, writeList(t, s, testList("a.adobe.io")))

	want := "127.0.0.1 localhost\r\n\r\n" +
		start + "\r\n# Last update: 2024-09-01\r\n0.0.0.0 a.adobe.io\r\n" + end + "\r\n"
	assert.Equal(t, want, readFile(t, p))
}

func TestWrite_UnterminatedBlockRunsToEOF(t *testing.T) {
	s, p := newTestStore(t, "10.0.0.1 nas.lan\n"+start+"\n0.0.0.0 old.adobe.io\n0.0.0.0 older.adobe.io\n")

	require.True(t, writeList(t, s, testList("a.adobe.io")))

	want := "10.0.0.1 nas.lan\n" + start + "\n# Last update: 2024-09-01\n0.0.0.0 a.adobe.io\n" + end + "\n"
	assert.Equal(t, want, readFile(t, p))
}

func TestWrite_CollapsesDuplicateBlocks(t *testing.T) {
	before := "x\n" + start + "\n0.0.0.0 a.adobe.io\n" + end + "\n" +
		"y\n" + start + "\n0.0.0.0 b.adobe.io\n" + end + "\n" +
		"z\n"
	s, p := newTestStore(t, before)

	require.True(t, writeList(t, s, testList("c.adobe.io")))

	want := "x\n" + start + "\n# Last update: 2024-09-01\n0.0.0.0 c.adobe.io\n" + end + "\ny\nz\n"
	assert.Equal(t, want, readFile(t, p))
}

func TestWrite_StrayEndMarkerIsForeign(t *testing.T) {
	before := "x\n" + end + "\n"
	s, p := newTestStore(t, before)

	require.True(t, writeList(t, s, testList("a.adobe.io")))

	got := readFile(t, p)
	assert.Equal(t, before+"\n"+start+"\n# Last update: 2024-09-01\n0.0.0.0 a.adobe.io\n"+end+"\n", got)
}

func TestWrite_MissingFileIsCreated(t *testing.T) {
	s, p := newTestStore(t, "")

	doc, err := s.Read()
	require.NoError(t, err)
	assert.False(t, doc.Exists)
	assert.Empty(t, doc.Lines)

	changed, err := s.Write(doc, testList("a.adobe.io"))
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, start+"\n# Last update: 2024-09-01\n0.0.0.0 a.adobe.io\n"+end+"\n", readFile(t, p))
	if runtime.GOOS != "windows" {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, fs.FileMode(0o644), info.Mode().Perm())
	}
}

func TestWrite_PreservesMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	s, p := newTestStore(t, "127.0.0.1 localhost\n")
	require.NoError(t, os.Chmod(p, 0o600))

	require.True(t, writeList(t, s, testList("a.adobe.io")))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestWrite_RefusesEmptyList(t *testing.T) {
	before := "127.0.0.1 localhost\n" + start + "\n0.0.0.0 a.adobe.io\n" + end + "\n"
	s, p := newTestStore(t, before)
	doc, err := s.Read()
	require.NoError(t, err)

	changed, err := s.Write(doc, domain.BlockList{})
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.ErrKindMalformedSource, domain.KindOf(err))
	assert.Equal(t, before, readFile(t, p))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWrite_FailedWriteLeavesOriginal(t *testing.T) {
	before := "127.0.0.1 localhost\n"
	s, p := newTestStore(t, before)

	orig := wrapWriter
	wrapWriter = func(*os.File) io.Writer { return failingWriter{} }
	t.Cleanup(func() { wrapWriter = orig })

	doc, err := s.Read()
	require.NoError(t, err)
	changed, err := s.Write(doc, testList("a.adobe.io"))
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.ErrKindFileAccess, domain.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, before, readFile(t, p))
	assertNoTempFiles(t, filepath.Dir(p))
}

func TestWrite_FailedRenameLeavesOriginal(t *testing.T) {
	before := "127.0.0.1 localhost\n"
	s, p := newTestStore(t, before)

	orig := rename
	rename = func(string, string) error { return errors.New("cross-device link") }
	t.Cleanup(func() { rename = orig })

	doc, err := s.Read()
	require.NoError(t, err)
	_, err = s.Write(doc, testList("a.adobe.io"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindFileAccess, domain.KindOf(err))

	assert.Equal(t, before, readFile(t, p))
	assertNoTempFiles(t, filepath.Dir(p))
}

func TestWrite_PermissionDeniedByProbe(t *testing.T) {
	before := "127.0.0.1 localhost\n"
	dir := t.TempDir()
	p := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(p, []byte(before), 0o644))

	var probed []string
	s := New(Options{
		Path:   p,
		Logger: log.NewNoopLogger(),
		Access: func(path string, isDir bool) error {
			probed = append(probed, path)
			return &fs.PathError{Op: "access", Path: path, Err: fs.ErrPermission}
		},
	})

	doc, err := s.Read()
	require.NoError(t, err)
	_, err = s.Write(doc, testList("a.adobe.io"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPermission))
	assert.Len(t, probed, 1)

	assert.Equal(t, before, readFile(t, p))
	assertNoTempFiles(t, dir)
}

func TestWrite_PermissionDeniedOnDisk(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires an unprivileged unix user")
	}
	before := "127.0.0.1 localhost\n"
	s, p := newTestStore(t, before)
	dir := filepath.Dir(p)
	require.NoError(t, os.Chmod(p, 0o444))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() {
		_ = os.Chmod(dir, 0o755)
		_ = os.Chmod(p, 0o644)
	})

	doc, err := s.Read()
	require.NoError(t, err)
	_, err = s.Write(doc, testList("a.adobe.io"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindPermission, domain.KindOf(err))

	assert.Equal(t, before, readFile(t, p))
	assertNoTempFiles(t, dir)
}

func TestRead_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires an unprivileged unix user")
	}
	s, p := newTestStore(t, "127.0.0.1 localhost\n")
	require.NoError(t, os.Chmod(p, 0))
	t.Cleanup(func() { _ = os.Chmod(p, 0o644) })

	_, err := s.Read()
	assert.Equal(t, domain.ErrKindPermission, domain.KindOf(err))
}

func TestWrite_FollowsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "real-hosts")
	link := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(target, []byte("127.0.0.1 localhost\n"), 0o644))
	require.NoError(t, os.Symlink(target, link))

	s := New(Options{Path: link, Logger: log.NewNoopLogger()})
	require.True(t, writeList(t, s, testList("a.adobe.io")))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&fs.ModeSymlink, "link replaced by a regular file")
	assert.Contains(t, readFile(t, target), "0.0.0.0 a.adobe.io")
}

func TestStrip(t *testing.T) {
	s, p := newTestStore(t, "127.0.0.1 localhost\n")
	require.True(t, writeList(t, s, testList("a.adobe.io")))

	doc, err := s.Read()
	require.NoError(t, err)
	changed, err := s.Strip(doc)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "127.0.0.1 localhost\n\n", readFile(t, p))

	doc, err = s.Read()
	require.NoError(t, err)
	changed, err = s.Strip(doc)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCurrentBlockListAndDiff(t *testing.T) {
	before := start + "\n# Last update: 2024-08-01\n0.0.0.0 a.adobe.io\n127.0.0.1 b.adobe.io\n" + end + "\n"
	s, _ := newTestStore(t, before)
	doc, err := s.Read()
	require.NoError(t, err)

	cur, ok := s.CurrentBlockList(doc)
	require.True(t, ok)
	assert.Equal(t, []string{"a.adobe.io", "b.adobe.io"}, cur.Domains())
	assert.Equal(t, "127.0.0.1", cur.Entries[1].IP)
	assert.Equal(t, "2024-08-01", cur.SourceUpdated)

	d := s.Diff(doc, testList("b.adobe.io", "c.adobe.io"))
	assert.Equal(t, []string{"c.adobe.io"}, d.Added)
	assert.Equal(t, []string{"a.adobe.io"}, d.Removed)

	empty, _ := newTestStore(t, "127.0.0.1 localhost\n")
	doc, err = empty.Read()
	require.NoError(t, err)
	_, ok = empty.CurrentBlockList(doc)
	assert.False(t, ok)
	assert.Equal(t, []string{"c.adobe.io"}, empty.Diff(doc, testList("c.adobe.io")).Added)
}

func TestDefaultPath(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, DefaultPath(), s.Path())
	if runtime.GOOS != "windows" {
		assert.Equal(t, "/etc/hosts", DefaultPath())
	}
}

func TestWouldChange(t *testing.T) {
	s, _ := newTestStore(t, "127.0.0.1 localhost\n")
	l := testList("a.adobe.io")

	doc, err := s.Read()
	require.NoError(t, err)
	assert.True(t, s.WouldChange(doc, l))

	require.True(t, writeList(t, s, l))
	doc, err = s.Read()
	require.NoError(t, err)
	assert.False(t, s.WouldChange(doc, l))

	l.Entries[0].IP = "127.0.0.1"
	assert.True(t, s.WouldChange(doc, l), "sink change must count")

	missing, _ := newTestStore(t, "")
	doc, err = missing.Read()
	require.NoError(t, err)
	assert.True(t, missing.WouldChange(doc, l))
}
