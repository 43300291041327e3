package updater

import (
	"context"
	"strings"
	"time"

	"github.com/haukened/adobe-netblock/internal/netblock/common/clock"
	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/parsers"
)

// Operation names used for locking, logging and metrics.
const (
	OpUpdate = "update"
	OpRemove = "remove"
)

// NoSourceDate is returned by SourceDate when the list carries no header.
const NoSourceDate = "-"

// Service orchestrates fetch → parse → read → write and the read-only
// queries over the hosts file.
type Service struct {
	registry  Registry
	fetcher   Fetcher
	store     HostsStore
	evaluator Evaluator
	locker    Locker
	metrics   Metrics
	clock     clock.Clock
	logger    log.Logger
	parse     parsers.Options
	timeout   time.Duration
}

// Options wires the Service's collaborators.
type Options struct {
	Registry  Registry
	Fetcher   Fetcher
	Store     HostsStore
	Evaluator Evaluator
	Locker    Locker
	Metrics   Metrics
	Clock     clock.Clock
	Logger    log.Logger
	// Parse controls sink assignment for fetched lists.
	Parse parsers.Options
	// Timeout bounds each fetch attempt; zero defers to the fetcher.
	Timeout time.Duration
}

// New constructs a Service. Metrics and Clock are optional.
func New(opts Options) *Service {
	s := &Service{
		registry:  opts.Registry,
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		evaluator: opts.Evaluator,
		locker:    opts.Locker,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		logger:    log.OrNoop(opts.Logger),
		parse:     opts.Parse,
		timeout:   opts.Timeout,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.parse.Logger == nil {
		s.parse.Logger = s.logger
	}
	return s
}

// UpdateOptions selects sources and write behavior for one Update.
type UpdateOptions struct {
	// Preferred is tried first; empty means registry order.
	Preferred domain.SourceID
	// Only restricts the run to Preferred, with no fallback.
	Only bool
	// DryRun stops after computing the diff; nothing is locked or written.
	DryRun bool
}

// Update fetches the list, parses it and rewrites the managed block.
// Cancellation is honored between stages; once writing starts it runs to
// completion. Every outcome is reported in the result, never as a panic.
func (s *Service) Update(ctx context.Context, opts UpdateOptions) (res domain.UpdateResult) {
	defer func() { s.record(OpUpdate, res) }()

	if !opts.DryRun {
		release, err := s.acquire(OpUpdate)
		if err != nil {
			return s.fail(domain.StageIdle, err)
		}
		defer release()
	}

	if err := canceled(ctx); err != nil {
		return s.fail(domain.StageIdle, err)
	}
	raw, used, err := s.fetcher.FetchWithFallback(ctx, s.sources(opts), s.timeout)
	if err != nil {
		return s.fail(domain.StageFetching, err)
	}

	if err := canceled(ctx); err != nil {
		return withSource(s.fail(domain.StageParsing, err), used)
	}
	list, err := parsers.Parse(strings.NewReader(raw), used, s.clock.Now(), s.parse)
	if err != nil {
		return withSource(s.fail(domain.StageParsing, err), used)
	}

	if err := canceled(ctx); err != nil {
		return withSource(s.fail(domain.StageReading, err), used)
	}
	doc, err := s.store.Read()
	if err != nil {
		return withSource(s.fail(domain.StageReading, err), used)
	}
	diff := s.store.Diff(doc, list)

	res = domain.UpdateResult{
		SourceUsed: used,
		Entries:    list.Len(),
		Added:      len(diff.Added),
		Removed:    len(diff.Removed),
		DryRun:     opts.DryRun,
	}
	if opts.DryRun {
		res.Success = true
		res.Stage = domain.StageDone
		res.Changed = s.store.WouldChange(doc, list)
		return res
	}

	if err := canceled(ctx); err != nil {
		return withSource(s.fail(domain.StageWriting, err), used)
	}
	changed, err := s.store.Write(doc, list)
	if err != nil {
		return withSource(s.fail(domain.StageWriting, err), used)
	}
	res.Success = true
	res.Stage = domain.StageDone
	res.Changed = changed
	s.metrics.ObserveStatus(domain.BlockStatus{IsBlocked: true, EntryCount: list.Len(), SourceUpdated: list.SourceUpdated})
	return res
}

// Remove strips the managed block, restoring unblocked behavior.
func (s *Service) Remove(ctx context.Context) (res domain.UpdateResult) {
	defer func() { s.record(OpRemove, res) }()

	release, err := s.acquire(OpRemove)
	if err != nil {
		return s.fail(domain.StageIdle, err)
	}
	defer release()

	if err := canceled(ctx); err != nil {
		return s.fail(domain.StageReading, err)
	}
	doc, err := s.store.Read()
	if err != nil {
		return s.fail(domain.StageReading, err)
	}
	removed := len(s.store.Diff(doc, domain.BlockList{}).Removed)

	changed, err := s.store.Strip(doc)
	if err != nil {
		return s.fail(domain.StageWriting, err)
	}
	s.metrics.ObserveStatus(domain.BlockStatus{})
	return domain.UpdateResult{Success: true, Stage: domain.StageDone, Removed: removed, Changed: changed}
}

// QueryStatus reads the hosts file and derives the blocking status. It never
// touches the network.
func (s *Service) QueryStatus() (domain.BlockStatus, error) {
	doc, err := s.store.Read()
	if err != nil {
		return domain.BlockStatus{}, err
	}
	st := s.evaluator.Evaluate(doc)
	s.metrics.ObserveStatus(st)
	return st, nil
}

// Check reports whether name is sunk by the managed block.
func (s *Service) Check(name string) (domain.BlockDecision, error) {
	doc, err := s.store.Read()
	if err != nil {
		return domain.BlockDecision{}, err
	}
	return s.evaluator.Check(doc, name), nil
}

// SourceDate fetches the list and returns its "Last update" header, or
// NoSourceDate when it has none.
func (s *Service) SourceDate(ctx context.Context, preferred domain.SourceID) (string, domain.SourceID, error) {
	raw, used, err := s.fetcher.FetchWithFallback(ctx, s.registry.Order(preferred), s.timeout)
	if err != nil {
		return "", "", err
	}
	if v := parsers.SourceUpdated(raw); v != "" {
		return v, used, nil
	}
	return NoSourceDate, used, nil
}

// SourceInfo is a mirror as presented to callers.
type SourceInfo struct {
	ID       domain.SourceID `json:"id" yaml:"id"`
	Label    string          `json:"label" yaml:"label"`
	URL      string          `json:"url" yaml:"url"`
	Priority int             `json:"priority" yaml:"priority"`
}

// Sources lists the mirrors in fallback order.
func (s *Service) Sources() []SourceInfo {
	list := s.registry.List()
	out := make([]SourceInfo, 0, len(list))
	for _, m := range list {
		out = append(out, SourceInfo{ID: m.ID, Label: m.Label, URL: s.registry.URL(m), Priority: m.Priority})
	}
	return out
}

func (s *Service) sources(opts UpdateOptions) []domain.MirrorSource {
	if opts.Only && opts.Preferred != "" {
		if m, ok := s.registry.Lookup(opts.Preferred); ok {
			return []domain.MirrorSource{m}
		}
		s.logger.Warn(map[string]any{"source": opts.Preferred.String()}, "update_only_unknown_source")
		return nil
	}
	return s.registry.Order(opts.Preferred)
}

func (s *Service) acquire(op string) (func(), error) {
	l, err := s.locker.Acquire(op)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			s.logger.Warn(map[string]any{"op": op, "error": err}, "lock_release_failed")
		}
	}, nil
}

func (s *Service) record(op string, res domain.UpdateResult) {
	s.metrics.ObserveUpdate(op, res, s.clock.Now())
	if res.Success {
		s.logger.Info(map[string]any{
			"op":      op,
			"source":  res.SourceUsed.String(),
			"entries": res.Entries,
			"added":   res.Added,
			"removed": res.Removed,
			"changed": res.Changed,
			"dry_run": res.DryRun,
		}, op+"_succeeded")
		return
	}
	s.logger.Error(map[string]any{
		"op":    op,
		"stage": res.Stage.String(),
		"kind":  res.ErrorKind.String(),
		"error": res.Err,
	}, op+"_failed")
}

// stageKinds names the kind reported for an error a collaborator returned
// without classifying it, by the stage that produced it.
var stageKinds = map[domain.Stage]domain.ErrorKind{
	domain.StageIdle:     domain.ErrKindFileAccess,
	domain.StageFetching: domain.ErrKindNetwork,
	domain.StageParsing:  domain.ErrKindMalformedSource,
	domain.StageReading:  domain.ErrKindFileAccess,
	domain.StageWriting:  domain.ErrKindFileAccess,
}

// fail reports err as the failure of stage. Errors that already carry a
// kind keep it; others are classified by stageKinds.
func (s *Service) fail(stage domain.Stage, err error) domain.UpdateResult {
	if domain.KindOf(err) == domain.ErrNone {
		kind, ok := stageKinds[stage]
		if !ok {
			kind = domain.ErrKindFileAccess
		}
		s.logger.Debug(map[string]any{"stage": stage.String(), "kind": kind.String(), "error": err}, "unclassified_error")
		err = domain.NewError(kind, stage.String(), err)
	}
	return domain.Failed(stage, err)
}

// canceled converts a finished context into TimeoutError.
func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.NewError(domain.ErrKindTimeout, "update", err)
	}
	return nil
}

func withSource(res domain.UpdateResult, id domain.SourceID) domain.UpdateResult {
	res.SourceUsed = id
	return res
}

type noopMetrics struct{}

func (noopMetrics) ObserveUpdate(string, domain.UpdateResult, time.Time) {}

func (noopMetrics) ObserveStatus(domain.BlockStatus) {}
