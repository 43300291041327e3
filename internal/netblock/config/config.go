package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "NETBLOCK_"

// ConfigFileEnv names the variable pointing at an optional YAML config file.
const ConfigFileEnv = EnvPrefix + "CONFIG"

// AppConfig holds configuration values merged from defaults, an optional YAML
// file, environment variables and command-line overrides.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log     LoggingConfig `koanf:"log"`
	Hosts   HostsConfig   `koanf:"hosts"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Source  SourceConfig  `koanf:"source"`
	Sink    SinkConfig    `koanf:"sink"`
	Index   IndexConfig   `koanf:"index"`
	API     APIConfig     `koanf:"api"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LoggingConfig controls log verbosity: "debug", "info", "warn", or "error".
type LoggingConfig struct {
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// HostsConfig locates the hosts file and the update lock. Empty values select
// the platform defaults.
type HostsConfig struct {
	Path string `koanf:"path"`
	Lock string `koanf:"lock"`
}

// FetchConfig tunes the per-attempt HTTP behavior.
type FetchConfig struct {
	Timeout   time.Duration `koanf:"timeout" validate:"required,gt=0"`
	UserAgent string        `koanf:"user_agent" validate:"required"`
	MaxBytes  int64         `koanf:"max_bytes" validate:"required,gte=1024"`
}

// SourceConfig selects the preferred mirror and the upstream repository file.
type SourceConfig struct {
	Preferred string         `koanf:"preferred" validate:"omitempty,source_id"`
	Owner     string         `koanf:"owner" validate:"required"`
	Repo      string         `koanf:"repo" validate:"required"`
	Ref       string         `koanf:"ref" validate:"required"`
	Path      string         `koanf:"path" validate:"required"`
	Mirrors   []MirrorConfig `koanf:"mirrors" validate:"dive"`
}

// MirrorConfig overrides one built-in mirror's URL template or priority.
type MirrorConfig struct {
	ID       string `koanf:"id" validate:"required,source_id"`
	Label    string `koanf:"label"`
	URL      string `koanf:"url" validate:"omitempty,url_template"`
	Priority *int   `koanf:"priority"`
}

// SinkConfig controls the addresses written for blocked names.
type SinkConfig struct {
	Default string `koanf:"default" validate:"required,sink_ip"`
	Force   string `koanf:"force" validate:"omitempty,sink_ip"`
}

// IndexConfig sizes the in-memory block index used by check.
type IndexConfig struct {
	CacheSize int     `koanf:"cache_size" validate:"gte=0"`
	FPRate    float64 `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

// APIConfig configures the serve command. A non-empty Token is required as a
// bearer token on mutating routes.
type APIConfig struct {
	Listen string `koanf:"listen" validate:"required,hostname_port"`
	Token  string `koanf:"token"`
}

// MetricsConfig optionally exports metrics to a node_exporter textfile.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Fetch: FetchConfig{
		Timeout:   8 * time.Second,
		UserAgent: "adobe-netblock",
		MaxBytes:  8 << 20,
	},
	Source: SourceConfig{
		Owner: "ignaciocastro",
		Repo:  "a-dove-is-dumb",
		Ref:   "main",
		Path:  "list.txt",
	},
	Sink:  SinkConfig{Default: domain.DefaultSink},
	Index: IndexConfig{CacheSize: 1024, FPRate: 0.01},
	API:   APIConfig{Listen: "127.0.0.1:8053"},
}

// envKeys maps the lowercased variable suffix to its config key. Variables not
// listed here are ignored.
var envKeys = map[string]string{
	"env":              "env",
	"log_level":        "log.level",
	"hosts_path":       "hosts.path",
	"hosts_lock":       "hosts.lock",
	"fetch_timeout":    "fetch.timeout",
	"fetch_user_agent": "fetch.user_agent",
	"fetch_max_bytes":  "fetch.max_bytes",
	"source":           "source.preferred",
	"source_preferred": "source.preferred",
	"source_owner":     "source.owner",
	"source_repo":      "source.repo",
	"source_ref":       "source.ref",
	"source_path":      "source.path",
	"sink_default":     "sink.default",
	"sink_force":       "sink.force",
	"index_cache_size": "index.cache_size",
	"index_fp_rate":    "index.fp_rate",
	"api_listen":       "api.listen",
	"api_token":        "api.token",
	"metrics_textfile": "metrics.textfile",
}

// Options selects the optional layers applied on top of the defaults.
type Options struct {
	// File is a YAML config file. Empty falls back to $NETBLOCK_CONFIG.
	File string
	// Overrides are flat "section.key" values applied last, typically from
	// command-line flags.
	Overrides map[string]any
}

// dotenvLoader loads a .env file from the working directory when present.
var dotenvLoader = func() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader merges a YAML file into k.
var fileLoader = func(k *koanf.Koanf, path string) error {
	return k.Load(file.Provider(path), yaml.Parser())
}

// envLoader loads NETBLOCK_* variables through envKeys
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key, ok := envKeys[strings.ToLower(strings.TrimPrefix(key, EnvPrefix))]
			if !ok {
				return "", nil
			}
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// registerValidation registers the custom tags used by AppConfig.
var registerValidation = func(v *validator.Validate) error {
	for tag, fn := range map[string]validator.Func{
		"sink_ip":      validSinkIP,
		"source_id":    validSourceID,
		"url_template": validURLTemplate,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// Load merges every configuration layer and validates the result.
func Load(opts Options) (*AppConfig, error) {
	if err := dotenvLoader(); err != nil {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	path := opts.File
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("error loading overrides: %w", err)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// Upstream returns the repository coordinates every mirror serves.
func (c SourceConfig) Upstream() domain.Upstream {
	return domain.Upstream{Owner: c.Owner, Repo: c.Repo, Ref: c.Ref, Path: c.Path}
}

// PreferredID returns the parsed preferred source. Load has already rejected
// unknown ids, so the error is dropped.
func (c SourceConfig) PreferredID() domain.SourceID {
	id, _ := domain.ParseSourceID(c.Preferred)
	return id
}

// MirrorSources applies the configured overrides to base. Overrides for ids
// missing from base are ignored.
func (c SourceConfig) MirrorSources(base []domain.MirrorSource) []domain.MirrorSource {
	out := make([]domain.MirrorSource, len(base))
	copy(out, base)
	for _, m := range c.Mirrors {
		id, err := domain.ParseSourceID(m.ID)
		if err != nil {
			continue
		}
		for i := range out {
			if out[i].ID != id {
				continue
			}
			if m.Label != "" {
				out[i].Label = m.Label
			}
			if m.URL != "" {
				out[i].URLTemplate = m.URL
			}
			if m.Priority != nil {
				out[i].Priority = *m.Priority
			}
		}
	}
	return out
}

// validSinkIP accepts a bare IPv4 or IPv6 address without zone.
func validSinkIP(fl validator.FieldLevel) bool {
	addr, err := netip.ParseAddr(fl.Field().String())
	return err == nil && addr.Zone() == ""
}

// validSourceID accepts the built-in mirror ids, case-insensitively.
func validSourceID(fl validator.FieldLevel) bool {
	id, err := domain.ParseSourceID(fl.Field().String())
	return err == nil && id != ""
}

var placeholder = regexp.MustCompile(`\{[^{}]*\}`)

// validURLTemplate accepts an absolute http(s) URL whose placeholders are
// limited to {owner}, {repo}, {ref} and {path}.
func validURLTemplate(fl validator.FieldLevel) bool {
	tmpl := fl.Field().String()
	for _, p := range placeholder.FindAllString(tmpl, -1) {
		switch p {
		case "{owner}", "{repo}", "{ref}", "{path}":
		default:
			return false
		}
	}
	expanded := domain.MirrorSource{URLTemplate: tmpl}.URL(domain.Upstream{
		Owner: "o", Repo: "r", Ref: "main", Path: "p",
	})
	if strings.ContainsAny(expanded, "{}") {
		return false
	}
	u, err := url.Parse(expanded)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
