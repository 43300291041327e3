package lock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/adobe-netblock/internal/netblock/common/clock"
	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// Error message constants for consistent error handling
const (
	errInProgress   = "%s in progress: lock %s: %w"
	errOpenLock     = "open lock %s: %w"
	errResetLock    = "reset damaged lock %s: %w"
	errLockDir      = "create lock directory %s: %w"
	errRecordHolder = "record lock holder: %w"
)

// ErrLocked marks contention with another holder of the lock.
var ErrLocked = errors.New("held by another process")

// DefaultTimeout bounds how long Acquire waits for a competing holder.
const DefaultTimeout = 2 * time.Second

var (
	bucketHolder = []byte("holder")
	keyPID       = []byte("pid")
	keyHost      = []byte("host")
	keyOp        = []byte("op")
	keyAcquired  = []byte("acquired")
	keyReleased  = []byte("released")
)

// openDB is a seam for tests.
var openDB = bbolt.Open

// Holder describes the process that last acquired the lock.
type Holder struct {
	PID        int       `json:"pid" yaml:"pid"`
	Host       string    `json:"host" yaml:"host"`
	Op         string    `json:"op" yaml:"op"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	ReleasedAt time.Time `json:"released_at,omitempty" yaml:"released_at,omitempty"`
}

// Released reports whether the holder let go cleanly.
func (h Holder) Released() bool { return !h.ReleasedAt.IsZero() }

// Options configures a Locker.
type Options struct {
	Path    string
	Timeout time.Duration
	Clock   clock.Clock
	Logger  log.Logger
}

// Locker hands out the machine-wide update lock. The bbolt file lock is
// exclusive across processes; the database itself records who holds it.
type Locker struct {
	path    string
	timeout time.Duration
	clock   clock.Clock
	logger  log.Logger
}

// New constructs a Locker, filling in defaults for unset options.
func New(opts Options) *Locker {
	l := &Locker{
		path:    opts.Path,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  log.OrNoop(opts.Logger),
	}
	if l.path == "" {
		l.path = DefaultPath()
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.clock == nil {
		l.clock = clock.RealClock{}
	}
	return l
}

// Path returns the lock file location.
func (l *Locker) Path() string { return l.path }

// Lock is a held update lock. Release it exactly once.
type Lock struct {
	db     *bbolt.DB
	holder Holder
	clock  clock.Clock
	logger log.Logger
}

// Acquire takes the lock for op, waiting up to the configured timeout.
// Contention is reported as FileAccessError; an unreadable lock path as
// PermissionError. A lock file that is not a valid database is replaced.
func (l *Locker) Acquire(op string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, classify(fmt.Errorf(errLockDir, filepath.Dir(l.path), err))
	}
	db, err := l.open(op)
	if errors.Is(err, bberrors.ErrTimeout) {
		l.logger.Warn(map[string]any{"path": l.path, "op": op}, "lock_contended")
		return nil, domain.NewError(domain.ErrKindFileAccess, "lock", fmt.Errorf(errInProgress, op, l.path, ErrLocked))
	}
	if err != nil {
		return nil, classify(fmt.Errorf(errOpenLock, l.path, err))
	}

	if prev, ok := readHolder(db); ok && !prev.Released() {
		l.logger.Warn(map[string]any{
			"pid":      prev.PID,
			"op":       prev.Op,
			"acquired": prev.AcquiredAt.Format(time.RFC3339),
		}, "lock_previous_holder_not_released")
	}

	host, _ := os.Hostname()
	h := Holder{PID: os.Getpid(), Host: host, Op: op, AcquiredAt: l.clock.Now()}
	if err := writeHolder(db, h); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf(errRecordHolder, err))
	}
	l.logger.Debug(map[string]any{"path": l.path, "op": op}, "lock_acquired")
	return &Lock{db: db, holder: h, clock: l.clock, logger: l.logger}, nil
}

// open opens the lock database, recreating the file once when its content is
// damaged or foreign. Only the holder metadata lives there, so nothing is lost.
func (l *Locker) open(op string) (*bbolt.DB, error) {
	opts := &bbolt.Options{Timeout: l.timeout}
	db, err := openDB(l.path, 0o600, opts)
	if !damaged(err) {
		return db, err
	}
	l.logger.Warn(map[string]any{"path": l.path, "op": op, "error": err}, "lock_file_reset")
	if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		return nil, fmt.Errorf(errResetLock, l.path, rerr)
	}
	return openDB(l.path, 0o600, opts)
}

func damaged(err error) bool {
	return errors.Is(err, bberrors.ErrInvalid) ||
		errors.Is(err, bberrors.ErrVersionMismatch) ||
		errors.Is(err, bberrors.ErrChecksum)
}

// Holder returns the metadata recorded at acquisition.
func (k *Lock) Holder() Holder { return k.holder }

// Release marks the holder released and closes the file, dropping the flock.
func (k *Lock) Release() error {
	err := k.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHolder)
		if b == nil {
			return nil
		}
		return b.Put(keyReleased, unixBytes(k.clock.Now()))
	})
	if cerr := k.db.Close(); err == nil {
		err = cerr
	}
	k.logger.Debug(map[string]any{"op": k.holder.Op}, "lock_released")
	return err
}

func writeHolder(db *bbolt.DB, h Holder) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketHolder)
		if err != nil {
			return err
		}
		pid := make([]byte, 8)
		binary.BigEndian.PutUint64(pid, uint64(h.PID))
		if err := b.Put(keyPID, pid); err != nil {
			return err
		}
		if err := b.Put(keyHost, []byte(h.Host)); err != nil {
			return err
		}
		if err := b.Put(keyOp, []byte(h.Op)); err != nil {
			return err
		}
		if err := b.Put(keyAcquired, unixBytes(h.AcquiredAt)); err != nil {
			return err
		}
		return b.Delete(keyReleased)
	})
}

func readHolder(db *bbolt.DB) (Holder, bool) {
	var h Holder
	var ok bool
	_ = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHolder)
		if b == nil {
			return nil
		}
		if v := b.Get(keyPID); len(v) == 8 {
			h.PID = int(binary.BigEndian.Uint64(v))
			ok = true
		}
		h.Host = string(b.Get(keyHost))
		h.Op = string(b.Get(keyOp))
		h.AcquiredAt = timeFromBytes(b.Get(keyAcquired))
		h.ReleasedAt = timeFromBytes(b.Get(keyReleased))
		return nil
	})
	return h, ok
}

func unixBytes(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func timeFromBytes(v []byte) time.Time {
	if len(v) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v)))
}

func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return domain.NewError(domain.ErrKindPermission, "lock", err)
	}
	return domain.NewError(domain.ErrKindFileAccess, "lock", err)
}
