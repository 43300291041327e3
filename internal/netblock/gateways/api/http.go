package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/common/utils"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/lock"
	"github.com/haukened/adobe-netblock/internal/netblock/services/updater"
)

const (
	// DefaultReadTimeout bounds the read-only routes.
	DefaultReadTimeout = 30 * time.Second
	// DefaultOpTimeout bounds one update or remove run, detached from the
	// request so collapsed callers are not canceled by the first one leaving.
	DefaultOpTimeout = 2 * time.Minute
)

// Service is the orchestrator surface the API exposes.
type Service interface {
	Update(ctx context.Context, opts updater.UpdateOptions) domain.UpdateResult
	Remove(ctx context.Context) domain.UpdateResult
	QueryStatus() (domain.BlockStatus, error)
	Check(name string) (domain.BlockDecision, error)
	SourceDate(ctx context.Context, preferred domain.SourceID) (string, domain.SourceID, error)
	Sources() []updater.SourceInfo
}

// Options configures the routes bound by BindRoutes.
type Options struct {
	Service Service
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Token, when set, is required as a bearer token on mutating routes.
	Token       string
	ReadTimeout time.Duration
	OpTimeout   time.Duration
	Logger      log.Logger
}

type Api struct {
	svc       Service
	token     string
	opTimeout time.Duration
	logger    log.Logger
	flight    singleflight.Group
}

// BindRoutes mounts the API on r.
func BindRoutes(r chi.Router, opts Options) {
	api := &Api{
		svc:       opts.Service,
		token:     opts.Token,
		opTimeout: opts.OpTimeout,
		logger:    log.OrNoop(opts.Logger),
	}
	if api.opTimeout <= 0 {
		api.opTimeout = DefaultOpTimeout
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Group(func(rr chi.Router) {
		rr.Use(middleware.Timeout(readTimeout))
		rr.Get("/api/health", api.health)
		rr.Get("/api/status", api.status)
		rr.Get("/api/sources", api.sources)
		rr.Get("/api/source-date", api.sourceDate)
		rr.Get("/api/check/{domain}", api.check)
		if opts.Metrics != nil {
			rr.Method(http.MethodGet, "/metrics", opts.Metrics)
		}
	})
	r.Group(func(pr chi.Router) {
		pr.Use(api.auth)
		pr.Post("/api/update", api.update)
		pr.Post("/api/remove", api.remove)
	})
}

// NewRouter returns a chi router with the API bound.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()
	BindRoutes(r, opts)
	return r
}

func (a *Api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !bearerMatches(r.Header.Get("Authorization"), a.token) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerMatches compares the presented bearer token in constant time.
func bearerMatches(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (a *Api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *Api) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.QueryStatus()
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *Api) sources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.svc.Sources()})
}

func (a *Api) sourceDate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSourceID(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	date, used, err := a.svc.SourceDate(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_updated": date, "source_used": used})
}

func (a *Api) check(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "domain")
	canon, err := utils.CanonicalDomain(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := dns.IsDomainName(canon); !ok || canon == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid domain name")
		return
	}
	d, err := a.svc.Check(name)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *Api) update(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := domain.ParseSourceID(q.Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	only, err := queryBool(q.Get("only"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "only: "+err.Error())
		return
	}
	dry, err := queryBool(q.Get("dry_run"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "dry_run: "+err.Error())
		return
	}
	opts := updater.UpdateOptions{Preferred: id, Only: only, DryRun: dry}

	key := "update:" + id.String() + ":" + strconv.FormatBool(only) + ":" + strconv.FormatBool(dry)
	a.run(w, r, key, func(ctx context.Context) domain.UpdateResult {
		return a.svc.Update(ctx, opts)
	})
}

func (a *Api) remove(w http.ResponseWriter, r *http.Request) {
	a.run(w, r, "remove", a.svc.Remove)
}

// run executes op once for all concurrent requests sharing key.
func (a *Api) run(w http.ResponseWriter, r *http.Request, key string, op func(context.Context) domain.UpdateResult) {
	v, _, shared := a.flight.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.opTimeout)
		defer cancel()
		return op(ctx), nil
	})
	res := v.(domain.UpdateResult)
	if shared {
		a.logger.Debug(map[string]any{"key": key, "request_id": middleware.GetReqID(r.Context())}, "api_request_collapsed")
	}

	body := resultResponse{UpdateResult: res, Shared: shared}
	if res.Err != nil {
		body.Detail = res.Err.Error()
	}
	code := http.StatusOK
	if !res.Success {
		code = statusFor(res.Err, res.ErrorKind)
	}
	writeJSON(w, code, body)
}

type resultResponse struct {
	domain.UpdateResult
	Shared bool   `json:"shared,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error, kind domain.ErrorKind) int {
	if errors.Is(err, lock.ErrLocked) {
		return http.StatusConflict
	}
	switch kind {
	case domain.ErrKindPermission:
		return http.StatusForbidden
	case domain.ErrKindNetwork, domain.ErrKindTimeout, domain.ErrKindAllSourcesExhausted:
		return http.StatusBadGateway
	case domain.ErrKindMalformedSource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeKindError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	name := kind.String()
	if name == "" {
		name = "internal"
	}
	writeError(w, statusFor(err, kind), name, err.Error())
}

func writeError(w http.ResponseWriter, code int, name, detail string) {
	writeJSON(w, code, errorResponse{Error: name, Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
