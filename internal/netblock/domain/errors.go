package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the core can report. Callers map kinds to
// user-facing text; the core never renders messages itself.
type ErrorKind uint8

const (
	// ErrNone marks the absence of an error.
	ErrNone ErrorKind = iota
	// ErrKindNetwork covers connection, DNS and HTTP-level failures.
	ErrKindNetwork
	// ErrKindTimeout covers per-attempt deadlines and caller cancellation.
	ErrKindTimeout
	// ErrKindAllSourcesExhausted means every mirror in the fallback order failed.
	ErrKindAllSourcesExhausted
	// ErrKindMalformedSource means fetched content parsed to zero usable entries.
	ErrKindMalformedSource
	// ErrKindFileAccess covers hosts file I/O failures other than permissions.
	ErrKindFileAccess
	// ErrKindPermission means the process lacks privilege to modify the hosts file.
	ErrKindPermission
)

// String returns a stable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return ""
	case ErrKindNetwork:
		return "NetworkError"
	case ErrKindTimeout:
		return "TimeoutError"
	case ErrKindAllSourcesExhausted:
		return "AllSourcesExhaustedError"
	case ErrKindMalformedSource:
		return "MalformedSourceError"
	case ErrKindFileAccess:
		return "FileAccessError"
	case ErrKindPermission:
		return "PermissionError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// MarshalText lets kinds serialize by name in JSON and YAML output.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseErrorKind converts a kind name back into an ErrorKind.
func ParseErrorKind(s string) (ErrorKind, error) {
	s = strings.TrimSpace(s)
	for k := ErrKindNetwork; k <= ErrKindPermission; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	if s == "" {
		return ErrNone, nil
	}
	return ErrNone, fmt.Errorf("unsupported ErrorKind: %q", s)
}

// Kind sentinels for use with errors.Is.
var (
	ErrNetwork             = &Error{Kind: ErrKindNetwork}
	ErrTimeout             = &Error{Kind: ErrKindTimeout}
	ErrAllSourcesExhausted = &Error{Kind: ErrKindAllSourcesExhausted}
	ErrMalformedSource     = &Error{Kind: ErrKindMalformedSource}
	ErrFileAccess          = &Error{Kind: ErrKindFileAccess}
	ErrPermission          = &Error{Kind: ErrKindPermission}
)

// Error is a classified failure. Op names the failing operation ("fetch",
// "read", "write", ...) and Err carries the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrPermission) works
// regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or ErrNone when err is nil or unclassified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrNone
}
