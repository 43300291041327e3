package main

import (
	"errors"
	"strings"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// Process exit codes. Wrappers rely on ExitPermission to relaunch elevated.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitUsage      = 2
	ExitPermission = 3
	ExitNetwork    = 4
	ExitMalformed  = 5
	ExitFileAccess = 6
)

// usageError marks bad flags, arguments or configuration.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// resultError carries a failed UpdateResult that was already rendered.
type resultError struct{ res domain.UpdateResult }

func (e *resultError) Error() string {
	if e.res.Err != nil {
		return e.res.Err.Error()
	}
	return e.res.ErrorKind.String()
}

func (e *resultError) Unwrap() error { return e.res.Err }

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	var re *resultError
	if errors.As(err, &re) {
		return codeForKind(re.res.ErrorKind)
	}
	return codeForKind(domain.KindOf(err))
}

func codeForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindPermission:
		return ExitPermission
	case domain.ErrKindNetwork, domain.ErrKindTimeout, domain.ErrKindAllSourcesExhausted:
		return ExitNetwork
	case domain.ErrKindMalformedSource:
		return ExitMalformed
	case domain.ErrKindFileAccess:
		return ExitFileAccess
	default:
		return ExitGeneric
	}
}
