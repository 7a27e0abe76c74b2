package config

import (
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("GIN_MODE", "weird")    // will normalize to "release"
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"
	t.Setenv("UPSTREAM_BASE_URL", "http://backend:3001")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("RATE_RPS", "x")      // unparsable -> default 5.0
	t.Setenv("RATE_BURST", "nope") // unparsable -> default 10
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("STUB_SEED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("server config wrong: %+v", cfg)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GIN_MODE not normalized: %q", cfg.GinMode)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging config wrong: %+v", cfg)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("base path not normalized: %q", cfg.APIBasePath)
	}
	if cfg.Upstream.BaseURL != "http://backend:3001" || cfg.Upstream.Timeout != 3*time.Second {
		t.Fatalf("upstream config wrong: %+v", cfg.Upstream)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limits should fall back to defaults: %+v", cfg)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[0] != "https://a.com" {
		t.Fatalf("CORS origins wrong: %+v", cfg.CORS.AllowedOrigins)
	}
	if cfg.StubSeed {
		t.Fatal("STUB_SEED=off not honored")
	}
}

func TestLoad_RejectsBadUpstreamURL(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "backend:3001")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "UPSTREAM_BASE_URL") {
		t.Fatalf("expected UPSTREAM_BASE_URL error, got %v", err)
	}
}

func TestLoad_RejectsBadSampleRatio(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OTEL_TRACES_SAMPLER_ARG") {
		t.Fatalf("expected sampler error, got %v", err)
	}
}
