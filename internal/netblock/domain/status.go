package domain

import (
	"fmt"
	"time"
)

// BlockStatus is derived from the hosts file on every query and never persisted.
type BlockStatus struct {
	IsBlocked      bool       `json:"is_blocked" yaml:"is_blocked"`
	HostsUpdatedAt *time.Time `json:"hosts_updated_at,omitempty" yaml:"hosts_updated_at,omitempty"`
	EntryCount     int        `json:"entry_count" yaml:"entry_count"`
	SourceUpdated  string     `json:"source_updated,omitempty" yaml:"source_updated,omitempty"`
}

// Stage is a step of a single update invocation.
//
// Idle -> Fetching -> Parsing -> Reading -> Writing -> Done, with any stage able
// to end the run as failed.
type Stage uint8

const (
	StageIdle Stage = iota
	StageFetching
	StageParsing
	StageReading
	StageWriting
	StageDone
)

// String returns a stable string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageFetching:
		return "fetching"
	case StageParsing:
		return "parsing"
	case StageReading:
		return "reading"
	case StageWriting:
		return "writing"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", s)
	}
}

// MarshalText serializes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UpdateResult is returned per update or remove operation.
//
// On success SourceUsed is set (empty for remove) and ErrorKind is ErrNone.
// On failure Stage names the step that failed and Err carries the cause.
type UpdateResult struct {
	Success    bool      `json:"success" yaml:"success"`
	SourceUsed SourceID  `json:"source_used,omitempty" yaml:"source_used,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Stage      Stage     `json:"stage" yaml:"stage"`
	Entries    int       `json:"entries" yaml:"entries"`
	Added      int       `json:"added" yaml:"added"`
	Removed    int       `json:"removed" yaml:"removed"`
	Changed    bool      `json:"changed" yaml:"changed"`
	DryRun     bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Err        error     `json:"-" yaml:"-"`
}

// Failed builds a failure result for stage. The kind comes from err itself;
// callers classify errors before reporting them, so an unclassified err
// leaves ErrorKind as ErrNone.
func Failed(stage Stage, err error) UpdateResult {
	return UpdateResult{Stage: stage, ErrorKind: KindOf(err), Err: err}
}
