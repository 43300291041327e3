package hosts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/parsers"
)

// Error message constants for consistent error handling
const (
	errResolvePath   = "resolve %s: %w"
	errReadFile      = "read %s: %w"
	errStatFile      = "stat %s: %w"
	errNotWritable   = "%s is not writable: %w"
	errCreateTemp    = "create temp file in %s: %w"
	errWriteTemp     = "write temp file: %w"
	errSyncTemp      = "sync temp file: %w"
	errCloseTemp     = "close temp file: %w"
	errChmodTemp     = "chmod temp file: %w"
	errReplaceTarget = "replace %s: %w"
)

const defaultMode fs.FileMode = 0o644

// DefaultPath returns the OS-standard hosts file location.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

func defaultNewline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// Test seams for fault injection around the atomic replace.
var (
	wrapWriter = func(f *os.File) io.Writer { return f }
	rename     = os.Rename
)

// Diff summarizes how a new list differs from the managed block on disk.
type Diff struct {
	Added   []string
	Removed []string
}

// Store reads and atomically rewrites one hosts file.
type Store struct {
	path   string
	logger log.Logger
	parse  parsers.Options
	access func(path string, isDir bool) error
}

// Options configures a Store.
type Options struct {
	Path   string
	Logger log.Logger
	// Parse controls how entries inside the managed block are read back.
	Parse parsers.Options
	// Access overrides the write-permission probe; nil selects the OS probe.
	Access func(path string, isDir bool) error
}

// New constructs a Store for the given path, defaulting to the OS hosts file.
func New(opts Options) *Store {
	p := opts.Path
	if p == "" {
		p = DefaultPath()
	}
	access := opts.Access
	if access == nil {
		access = checkWritable
	}
	logger := log.OrNoop(opts.Logger)
	parse := opts.Parse
	if parse.Logger == nil {
		parse.Logger = logger
	}
	return &Store{path: p, logger: logger, parse: parse, access: access}
}

// Path returns the configured hosts file path.
func (s *Store) Path() string { return s.path }

// resolve follows symlinks so the rename replaces the real file, not the link.
func (s *Store) resolve() (string, error) {
	p, err := filepath.EvalSymlinks(s.path)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return s.path, nil
	}
	return "", classify("read", fmt.Errorf(errResolvePath, s.path, err))
}

// Read loads the hosts file. A missing file yields an empty document rather
// than an error; permission problems surface as PermissionError and any other
// I/O failure as FileAccessError.
func (s *Store) Read() (domain.HostsDocument, error) {
	path, err := s.resolve()
	if err != nil {
		return domain.HostsDocument{}, err
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug(map[string]any{"path": path}, "hosts_missing_treated_empty")
		doc := domain.NewHostsDocument(path, nil, defaultNewline())
		doc.Mode = defaultMode
		return doc, nil
	}
	if err != nil {
		return domain.HostsDocument{}, classify("read", fmt.Errorf(errReadFile, path, err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.HostsDocument{}, classify("read", fmt.Errorf(errStatFile, path, err))
	}

	doc := domain.NewHostsDocument(path, content, defaultNewline())
	doc.Exists = true
	doc.Mode = info.Mode().Perm()
	doc.ModTime = info.ModTime()
	s.logger.Debug(map[string]any{"path": path, "lines": len(doc.Lines), "blocks": len(doc.Blocks)}, "hosts_read")
	return doc, nil
}

// CurrentBlockList extracts the entries inside the first managed block. The
// returned list has no FetchedAt; callers use the file's modification time.
func (s *Store) CurrentBlockList(doc domain.HostsDocument) (domain.BlockList, bool) {
	if !doc.HasBlock() {
		return domain.BlockList{}, false
	}
	entries, updated := parsers.ParseEntries(doc.BlockLines(), s.parse)
	return domain.BlockList{Entries: entries, SourceUpdated: updated}, true
}

// Diff compares the domains of the current managed block with list.
func (s *Store) Diff(doc domain.HostsDocument, list domain.BlockList) Diff {
	cur, _ := s.CurrentBlockList(doc)
	current := make(map[string]struct{}, cur.Len())
	for _, name := range cur.Domains() {
		current[name] = struct{}{}
	}
	next := make(map[string]struct{}, list.Len())
	var d Diff
	for _, name := range list.Domains() {
		next[name] = struct{}{}
		if _, ok := current[name]; !ok {
			d.Added = append(d.Added, name)
		}
	}
	for _, name := range cur.Domains() {
		if _, ok := next[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}

// WouldChange reports whether writing list would alter the file on disk.
func (s *Store) WouldChange(doc domain.HostsDocument, list domain.BlockList) bool {
	return !doc.Exists || !bytes.Equal(Render(doc, &list), doc.Bytes())
}

// Write replaces the managed block with list and atomically swaps the file in.
// It reports whether the file changed; identical content skips the replace.
// A zero-entry list is refused so an empty fetch can never unblock everything.
func (s *Store) Write(doc domain.HostsDocument, list domain.BlockList) (bool, error) {
	if list.Len() == 0 {
		return false, domain.NewError(domain.ErrKindMalformedSource, "write", errors.New("refusing to write an empty block list"))
	}
	return s.replace(doc, Render(doc, &list))
}

// Strip removes every managed block. Documents without one are left alone.
func (s *Store) Strip(doc domain.HostsDocument) (bool, error) {
	if !doc.HasBlock() {
		return false, nil
	}
	return s.replace(doc, Render(doc, nil))
}

func (s *Store) replace(doc domain.HostsDocument, data []byte) (bool, error) {
	if doc.Exists && bytes.Equal(data, doc.Bytes()) {
		s.logger.Debug(map[string]any{"path": doc.Path}, "hosts_unchanged")
		return false, nil
	}

	target := doc.Path
	if target == "" {
		p, err := s.resolve()
		if err != nil {
			return false, err
		}
		target = p
	}
	dir := filepath.Dir(target)

	if doc.Exists {
		if err := s.access(target, false); err != nil {
			return false, classify("write", fmt.Errorf(errNotWritable, target, err))
		}
	}
	if err := s.access(dir, true); err != nil {
		return false, classify("write", fmt.Errorf(errNotWritable, dir, err))
	}

	mode := doc.Mode
	if mode == 0 {
		mode = defaultMode
	}
	if err := writeAtomic(target, data, mode); err != nil {
		return false, err
	}
	s.logger.Info(map[string]any{"path": target, "bytes": len(data)}, "hosts_written")
	return true, nil
}

// writeAtomic writes data to a temp file beside target and renames it over
// target, so readers only ever see the old or the new content.
func writeAtomic(target string, data []byte, mode fs.FileMode) (err error) {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".hosts-netblock-*.tmp")
	if err != nil {
		return classify("write", fmt.Errorf(errCreateTemp, dir, err))
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = wrapWriter(tmp).Write(data); err != nil {
		return classify("write", fmt.Errorf(errWriteTemp, err))
	}
	if err = tmp.Sync(); err != nil {
		return classify("write", fmt.Errorf(errSyncTemp, err))
	}
	if err = tmp.Close(); err != nil {
		return classify("write", fmt.Errorf(errCloseTemp, err))
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return classify("write", fmt.Errorf(errChmodTemp, err))
	}
	preserveOwner(tmpName, target)

	if err = rename(tmpName, target); err != nil {
		return classify("write", fmt.Errorf(errReplaceTarget, target, err))
	}
	syncDir(dir)
	return nil
}

// classify maps filesystem errors onto the two hosts-file error kinds.
func classify(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return domain.NewError(domain.ErrKindPermission, op, err)
	}
	return domain.NewError(domain.ErrKindFileAccess, op, err)
}
