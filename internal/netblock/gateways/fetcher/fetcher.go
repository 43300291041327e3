package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/mirrors"
)

// Error message constants for consistent error handling
const (
	errNoSources        = "no sources to try"
	errBuildRequest     = "build request for %s: %w"
	errRequestFailed    = "GET %s: %w"
	errAttemptTimeout   = "GET %s: no response within %v"
	errUnexpectedStatus = "GET %s: unexpected status %s"
	errHTMLBody         = "GET %s: got an HTML page instead of a block list"
	errReadBody         = "read body from %s: %w"
	errBodyTooLarge     = "body from %s exceeds %d bytes"
	errCanceled         = "fetch canceled: %w"
	errSourceFailed     = "%s: %w"
	errAllSourcesFailed = "all %d sources failed"
)

const (
	DefaultTimeout   = 8 * time.Second
	DefaultMaxBytes  = 8 << 20
	DefaultUserAgent = "adobe-netblock"
)

// Doer is the subset of *http.Client the fetcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ObserveFunc is called once per attempt with the source, elapsed time and
// outcome. It must not block.
type ObserveFunc func(source domain.SourceID, elapsed time.Duration, err error)

// Options defines configuration parameters for the fetcher.
type Options struct {
	// Timeout applies per attempt when the caller passes none.
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
	// Upstream expands source URL templates; zero selects mirrors.DefaultUpstream.
	Upstream domain.Upstream
	Logger   log.Logger
	Observe  ObserveFunc
	// options to inject for testing purposes
	Client Doer
	Now    func() time.Time
}

// Fetcher retrieves the raw block list from mirror sources over HTTP. It is a
// pure network boundary: it neither parses nor caches what it downloads.
type Fetcher struct {
	timeout   time.Duration
	userAgent string
	maxBytes  int64
	upstream  domain.Upstream
	logger    log.Logger
	observe   ObserveFunc
	client    Doer
	now       func() time.Time
}

// New creates a Fetcher, applying defaults for unset options.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Upstream == (domain.Upstream{}) {
		opts.Upstream = mirrors.DefaultUpstream
	}
	if opts.Observe == nil {
		opts.Observe = func(domain.SourceID, time.Duration, error) {}
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		upstream:  opts.Upstream,
		logger:    log.OrNoop(opts.Logger),
		observe:   opts.Observe,
		client:    opts.Client,
		now:       opts.Now,
	}
}

// URL returns the concrete address fetched for src.
func (f *Fetcher) URL(src domain.MirrorSource) string { return src.URL(f.upstream) }

// Fetch performs one GET against src bounded by timeout (the fetcher default
// when <= 0). Failures are classified as NetworkError or TimeoutError.
func (f *Fetcher) Fetch(ctx context.Context, src domain.MirrorSource, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = f.timeout
	}
	start := f.now()
	body, err := f.fetch(ctx, src, timeout)
	f.observe(src.ID, f.now().Sub(start), err)
	return body, err
}

func (f *Fetcher) fetch(ctx context.Context, src domain.MirrorSource, timeout time.Duration) (string, error) {
	url := f.URL(src)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.NewError(domain.ErrKindNetwork, "fetch", fmt.Errorf(errBuildRequest, url, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classify(ctx, actx, url, timeout, fmt.Errorf(errRequestFailed, url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.NewError(domain.ErrKindNetwork, "fetch", fmt.Errorf(errUnexpectedStatus, url, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", f.classify(ctx, actx, url, timeout, fmt.Errorf(errReadBody, url, err))
	}
	if int64(len(data)) > f.maxBytes {
		return "", domain.NewError(domain.ErrKindNetwork, "fetch", fmt.Errorf(errBodyTooLarge, url, f.maxBytes))
	}
	if isHTML(resp.Header.Get("Content-Type"), data) {
		return "", domain.NewError(domain.ErrKindNetwork, "fetch", fmt.Errorf(errHTMLBody, url))
	}
	return string(data), nil
}

// classify maps a transport error onto TimeoutError (parent done, attempt
// deadline hit, or a net timeout) or NetworkError.
func (f *Fetcher) classify(parent, attempt context.Context, url string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return domain.NewError(domain.ErrKindTimeout, "fetch", fmt.Errorf(errCanceled, err))
	}
	var ne net.Error
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.NewError(domain.ErrKindTimeout, "fetch", fmt.Errorf(errAttemptTimeout+": %w", url, timeout, err))
	}
	return domain.NewError(domain.ErrKindNetwork, "fetch", err)
}

// FetchWithFallback tries sources in order and returns the first body
// obtained. Per-source failures are logged and swallowed; when every source
// fails the result is AllSourcesExhaustedError joining each cause. A parent
// context that ends stops the loop at once with TimeoutError.
func (f *Fetcher) FetchWithFallback(ctx context.Context, sources []domain.MirrorSource, timeout time.Duration) (string, domain.SourceID, error) {
	if len(sources) == 0 {
		return "", "", domain.NewError(domain.ErrKindAllSourcesExhausted, "fetch", errors.New(errNoSources))
	}

	errs := make([]error, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return "", "", domain.NewError(domain.ErrKindTimeout, "fetch", fmt.Errorf(errCanceled, err))
		}
		body, err := f.Fetch(ctx, src, timeout)
		if err == nil {
			f.logger.Info(map[string]any{"source": src.ID.String(), "attempt": i + 1, "bytes": len(body)}, "fetch_succeeded")
			return body, src.ID, nil
		}
		if domain.KindOf(err) == domain.ErrKindTimeout && ctx.Err() != nil {
			return "", "", err
		}
		f.logger.Warn(map[string]any{"source": src.ID.String(), "attempt": i + 1, "error": err}, "fetch_attempt_failed")
		errs = append(errs, fmt.Errorf(errSourceFailed, src.ID, err))
	}

	return "", "", domain.NewError(domain.ErrKindAllSourcesExhausted, "fetch",
		fmt.Errorf(errAllSourcesFailed+": %w", len(sources), errors.Join(errs...)))
}

// isHTML spots mirror error pages served with a 200 status.
func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
