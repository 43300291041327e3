package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/mirrors"
)

// isolate clears the file layer so a developer's environment cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigFileEnv, "")
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Hosts.Path)
	assert.Equal(t, 8*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, int64(8<<20), cfg.Fetch.MaxBytes)
	assert.Equal(t, "adobe-netblock", cfg.Fetch.UserAgent)
	assert.Empty(t, cfg.Source.Preferred)
	assert.Equal(t, mirrors.DefaultUpstream, cfg.Source.Upstream())
	assert.Equal(t, domain.DefaultSink, cfg.Sink.Default)
	assert.Empty(t, cfg.Sink.Force)
	assert.Equal(t, 1024, cfg.Index.CacheSize)
	assert.InDelta(t, 0.01, cfg.Index.FPRate, 1e-9)
	assert.Equal(t, "127.0.0.1:8053", cfg.API.Listen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("NETBLOCK_ENV", "dev")
	t.Setenv("NETBLOCK_LOG_LEVEL", "debug")
	t.Setenv("NETBLOCK_HOSTS_PATH", "/tmp/hosts")
	t.Setenv("NETBLOCK_HOSTS_LOCK", "/tmp/netblock.lock")
	t.Setenv("NETBLOCK_FETCH_TIMEOUT", "3s")
	t.Setenv("NETBLOCK_FETCH_USER_AGENT", "agent/1")
	t.Setenv("NETBLOCK_FETCH_MAX_BYTES", "4096")
	t.Setenv("NETBLOCK_SOURCE", "Gcore")
	t.Setenv("NETBLOCK_SINK_DEFAULT", "127.0.0.1")
	t.Setenv("NETBLOCK_SINK_FORCE", "::")
	t.Setenv("NETBLOCK_INDEX_CACHE_SIZE", "0")
	t.Setenv("NETBLOCK_INDEX_FP_RATE", "0.001")
	t.Setenv("NETBLOCK_API_LISTEN", "0.0.0.0:9000")
	t.Setenv("NETBLOCK_METRICS_TEXTFILE", "/tmp/netblock.prom")
	t.Setenv("NETBLOCK_UNRELATED", "ignored")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/hosts", cfg.Hosts.Path)
	assert.Equal(t, "/tmp/netblock.lock", cfg.Hosts.Lock)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "agent/1", cfg.Fetch.UserAgent)
	assert.Equal(t, int64(4096), cfg.Fetch.MaxBytes)
	assert.Equal(t, domain.SourceGcore, cfg.Source.PreferredID())
	assert.Equal(t, "127.0.0.1", cfg.Sink.Default)
	assert.Equal(t, "::", cfg.Sink.Force)
	assert.Equal(t, 0, cfg.Index.CacheSize)
	assert.InDelta(t, 0.001, cfg.Index.FPRate, 1e-9)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)
	assert.Equal(t, "/tmp/netblock.prom", cfg.Metrics.Textfile)
}

func TestLoad_FileThenEnvThenOverrides(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "netblock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
source:
  preferred: fastly
  ref: v2
  mirrors:
    - id: ghproxy
      url: https://proxy.example/{owner}/{repo}/{ref}/{path}
      priority: -1
api:
  listen: 127.0.0.1:7000
`), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("NETBLOCK_LOG_LEVEL", "error")

	cfg, err := Load(Options{Overrides: map[string]any{"api.listen": "127.0.0.1:7001"}})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level, "env beats file")
	assert.Equal(t, "127.0.0.1:7001", cfg.API.Listen, "overrides beat file")
	assert.Equal(t, domain.SourceFastly, cfg.Source.PreferredID())
	assert.Equal(t, "v2", cfg.Source.Ref)
	assert.Equal(t, "ignaciocastro", cfg.Source.Owner, "defaults survive partial file")

	sources := cfg.Source.MirrorSources(mirrors.DefaultSources)
	require.Len(t, sources, len(mirrors.DefaultSources))
	var ghproxy domain.MirrorSource
	for _, s := range sources {
		if s.ID == domain.SourceGhproxy {
			ghproxy = s
		}
	}
	assert.Equal(t, "https://proxy.example/{owner}/{repo}/{ref}/{path}", ghproxy.URLTemplate)
	assert.Equal(t, -1, ghproxy.Priority)
	assert.Equal(t, "Ghproxy", ghproxy.Label)

	reg := mirrors.New(mirrors.Options{Sources: sources, Upstream: cfg.Source.Upstream()})
	assert.Equal(t, domain.SourceGhproxy, reg.List()[0].ID)
	assert.Equal(t, "https://ghproxy.net/https://raw.githubusercontent.com/{owner}/{repo}/{ref}/{path}",
		mirrors.DefaultSources[4].URLTemplate, "base catalog untouched")
}

func TestLoad_ExplicitFileWins(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env.yaml")
	flagFile := filepath.Join(dir, "flag.yaml")
	require.NoError(t, os.WriteFile(envFile, []byte("log:\n  level: warn\n"), 0o600))
	require.NoError(t, os.WriteFile(flagFile, []byte("log:\n  level: debug\n"), 0o600))
	t.Setenv(ConfigFileEnv, envFile)

	cfg, err := Load(Options{File: flagFile})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	t.Setenv("NETBLOCK_API_LISTEN", "")
	require.NoError(t, os.Unsetenv("NETBLOCK_API_LISTEN"))
	require.NoError(t, os.WriteFile(".env", []byte("NETBLOCK_API_LISTEN=127.0.0.1:9999\n"), 0o600))

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("NETBLOCK_API_LISTEN", "127.0.0.1:1234")
	require.NoError(t, os.WriteFile(".env", []byte("NETBLOCK_API_LISTEN=127.0.0.1:9999\n"), 0o600))

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.API.Listen)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"env", map[string]string{"NETBLOCK_ENV": "staging"}},
		{"log level", map[string]string{"NETBLOCK_LOG_LEVEL": "trace"}},
		{"timeout not a duration", map[string]string{"NETBLOCK_FETCH_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"NETBLOCK_FETCH_TIMEOUT": "0s"}},
		{"max bytes too small", map[string]string{"NETBLOCK_FETCH_MAX_BYTES": "10"}},
		{"unknown source", map[string]string{"NETBLOCK_SOURCE": "mirror9"}},
		{"sink hostname", map[string]string{"NETBLOCK_SINK_DEFAULT": "localhost"}},
		{"sink with zone", map[string]string{"NETBLOCK_SINK_FORCE": "fe80::1%eth0"}},
		{"empty default sink", map[string]string{"NETBLOCK_SINK_DEFAULT": ""}},
		{"negative cache", map[string]string{"NETBLOCK_INDEX_CACHE_SIZE": "-1"}},
		{"fp rate", map[string]string{"NETBLOCK_INDEX_FP_RATE": "1.5"}},
		{"listen", map[string]string{"NETBLOCK_API_LISTEN": "nowhere"}},
		{"empty owner", map[string]string{"NETBLOCK_SOURCE_OWNER": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(Options{})
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidMirrorOverride(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "netblock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  mirrors:
    - id: fastly
      url: https://cdn.example/{user}/{repo}
`), 0o600))

	_, err := Load(Options{File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url_template")
}

func TestLoad_LoaderFailures(t *testing.T) {
	mocked := errors.New("mocked error")

	t.Run("dotenv", func(t *testing.T) {
		isolate(t)
		orig := dotenvLoader
		dotenvLoader = func() error { return mocked }
		defer func() { dotenvLoader = orig }()
		_, err := Load(Options{})
		assert.ErrorIs(t, err, mocked)
	})
	t.Run("defaults", func(t *testing.T) {
		isolate(t)
		orig := defaultLoader
		defaultLoader = func(*koanf.Koanf) error { return mocked }
		defer func() { defaultLoader = orig }()
		_, err := Load(Options{})
		assert.ErrorIs(t, err, mocked)
	})
	t.Run("file", func(t *testing.T) {
		isolate(t)
		orig := fileLoader
		fileLoader = func(*koanf.Koanf, string) error { return mocked }
		defer func() { fileLoader = orig }()
		_, err := Load(Options{File: "netblock.yaml"})
		assert.ErrorIs(t, err, mocked)
	})
	t.Run("env", func(t *testing.T) {
		isolate(t)
		orig := envLoader
		envLoader = func(*koanf.Koanf) error { return mocked }
		defer func() { envLoader = orig }()
		_, err := Load(Options{})
		assert.ErrorIs(t, err, mocked)
	})
	t.Run("validation", func(t *testing.T) {
		isolate(t)
		orig := registerValidation
		registerValidation = func(*validator.Validate) error { return mocked }
		defer func() { registerValidation = orig }()
		_, err := Load(Options{})
		assert.ErrorIs(t, err, mocked)
	})
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	isolate(t)
	orig := DEFAULT_APP_CONFIG
	defer func() { DEFAULT_APP_CONFIG = orig }()

	DEFAULT_APP_CONFIG.Sink.Default = "not-an-ip"

	_, err := Load(Options{})
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	validate := validator.New()
	require.NoError(t, registerValidation(validate))

	type probe struct {
		Sink   string `validate:"sink_ip"`
		Source string `validate:"source_id"`
		URL    string `validate:"url_template"`
	}
	ok := probe{Sink: "0.0.0.0", Source: "original", URL: "https://h.example/{owner}/{repo}@{ref}/{path}"}
	require.NoError(t, validate.Struct(ok))

	tests := []struct {
		name  string
		probe probe
	}{
		{"sink not ip", probe{Sink: "example.com", Source: ok.Source, URL: ok.URL}},
		{"sink cidr", probe{Sink: "10.0.0.0/8", Source: ok.Source, URL: ok.URL}},
		{"source empty", probe{Sink: ok.Sink, Source: "", URL: ok.URL}},
		{"source unknown", probe{Sink: ok.Sink, Source: "mirror", URL: ok.URL}},
		{"url unknown placeholder", probe{Sink: ok.Sink, Source: ok.Source, URL: "https://h.example/{branch}"}},
		{"url unbalanced brace", probe{Sink: ok.Sink, Source: ok.Source, URL: "https://h.example/{owner"}},
		{"url relative", probe{Sink: ok.Sink, Source: ok.Source, URL: "/{owner}/{repo}"}},
		{"url scheme", probe{Sink: ok.Sink, Source: ok.Source, URL: "ftp://h.example/{path}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, validate.Struct(tt.probe))
		})
	}

	assert.NoError(t, validate.Struct(probe{Sink: "::1", Source: "GHPROXY", URL: "http://mirror.local/{path}"}))
}

func TestDefaultLoader_LoadsDefaults(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, defaultLoader(k))

	var cfg AppConfig
	require.NoError(t, k.Unmarshal("", &cfg))
	assert.Equal(t, DEFAULT_APP_CONFIG.Env, cfg.Env)
	assert.Equal(t, DEFAULT_APP_CONFIG.Log, cfg.Log)
	assert.Equal(t, DEFAULT_APP_CONFIG.Fetch, cfg.Fetch)
	assert.Equal(t, DEFAULT_APP_CONFIG.Sink, cfg.Sink)
	assert.Equal(t, DEFAULT_APP_CONFIG.Index, cfg.Index)
	assert.Equal(t, DEFAULT_APP_CONFIG.API, cfg.API)
	assert.Equal(t, DEFAULT_APP_CONFIG.Source.Upstream(), cfg.Source.Upstream())
	assert.Empty(t, cfg.Source.Mirrors)
}
