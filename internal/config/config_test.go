package config

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig("primecount", nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Mode != ModeStandalone {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeStandalone)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.JobTTL != time.Hour || cfg.RetireGrace != 5*time.Minute {
		t.Errorf("unexpected TTLs: job=%s grace=%s", cfg.JobTTL, cfg.RetireGrace)
	}
	if cfg.HardTimeLimit != 3600*time.Second || cfg.SoftTimeLimit != 3000*time.Second {
		t.Errorf("unexpected limits: hard=%s soft=%s", cfg.HardTimeLimit, cfg.SoftTimeLimit)
	}
	if cfg.RetryDelay != 30*time.Second || cfg.MaxRetries != 3 {
		t.Errorf("unexpected retry policy: delay=%s max=%d", cfg.RetryDelay, cfg.MaxRetries)
	}
	if cfg.MinN != 10000 || cfg.MaxChunks != 128 {
		t.Errorf("unexpected bounds: min-n=%d max-chunks=%d", cfg.MinN, cfg.MaxChunks)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestParseConfig_EnvPriority(t *testing.T) {
	t.Setenv("PRIMECOUNT_MODE", "worker")
	t.Setenv("PRIMECOUNT_REDIS_URL", "redis://env:6379/0")
	t.Setenv("PRIMECOUNT_MAX_RETRIES", "5")
	t.Setenv("PRIMECOUNT_RETRY_DELAY", "2s")
	t.Setenv("PRIMECOUNT_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PRIMECOUNT_CORS", "no")

	cfg, err := ParseConfig("primecount", []string{"--redis-url", "redis://flag:6379/1"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Mode != ModeWorker {
		t.Errorf("Mode = %q, want env value %q", cfg.Mode, ModeWorker)
	}
	if cfg.RedisURL != "redis://flag:6379/1" {
		t.Errorf("RedisURL = %q, flag should win over env", cfg.RedisURL)
	}
	if cfg.MaxRetries != 5 || cfg.RetryDelay != 2*time.Second {
		t.Errorf("retry policy not overridden: %d %s", cfg.MaxRetries, cfg.RetryDelay)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.EnableCORS {
		t.Error("EnableCORS should be disabled by env")
	}
}

func TestParseConfig_InvalidEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("PRIMECOUNT_MAX_CHUNKS", "lots")
	cfg, err := ParseConfig("primecount", nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.MaxChunks != DefaultMaxChunks {
		t.Errorf("MaxChunks = %d, want default %d", cfg.MaxChunks, DefaultMaxChunks)
	}
}

func TestParseConfig_Help(t *testing.T) {
	_, err := ParseConfig("primecount", []string{"-h"}, io.Discard)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
}

func TestAppConfig_Validate(t *testing.T) {
	t.Parallel()
	valid := func() AppConfig {
		return AppConfig{
			Mode: ModeStandalone, JobTTL: time.Hour, RetireGrace: time.Minute,
			HardTimeLimit: time.Hour, SoftTimeLimit: time.Minute, ResultExpires: time.Hour,
			Heartbeat: time.Second, MinN: 1, MaxChunks: 1, LogFormat: "json", Tracing: "none",
		}
	}
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"valid", func(*AppConfig) {}, true},
		{"unknown mode", func(c *AppConfig) { c.Mode = "cluster" }, false},
		{"api without redis", func(c *AppConfig) { c.Mode = ModeAPI }, false},
		{"api with redis", func(c *AppConfig) { c.Mode = ModeAPI; c.RedisURL = "redis://x" }, true},
		{"soft above hard", func(c *AppConfig) { c.SoftTimeLimit = 2 * time.Hour }, false},
		{"zero job ttl", func(c *AppConfig) { c.JobTTL = 0 }, false},
		{"negative retries", func(c *AppConfig) { c.MaxRetries = -1 }, false},
		{"zero max chunks", func(c *AppConfig) { c.MaxChunks = 0 }, false},
		{"bad log format", func(c *AppConfig) { c.LogFormat = "xml" }, false},
		{"bad tracing", func(c *AppConfig) { c.Tracing = "jaeger" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if !tt.ok {
				var cfgErr apperrors.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("Validate() = %v, want ConfigError", err)
				}
			}
		})
	}
}

func TestParseClientConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(*testing.T, ClientConfig)
	}{
		{
			name: "submit with flags",
			args: []string{"-n", "200000", "-chunks", "16", "submit"},
			check: func(t *testing.T, c ClientConfig) {
				if c.Command != CommandSubmit || c.N != 200000 || c.Chunks != 16 {
					t.Errorf("unexpected config: %+v", c)
				}
			},
		},
		{
			name: "watch with job id",
			args: []string{"-tui", "watch", "abc"},
			check: func(t *testing.T, c ClientConfig) {
				if c.JobID() != "abc" || !c.TUI {
					t.Errorf("unexpected config: %+v", c)
				}
			},
		},
		{
			name: "completion shell",
			args: []string{"completion", "zsh"},
			check: func(t *testing.T, c ClientConfig) {
				if c.Command != CommandCompletion || len(c.Args) != 1 || c.Args[0] != "zsh" {
					t.Errorf("unexpected config: %+v", c)
				}
			},
		},
		{name: "health", args: []string{"health"}},
		{name: "completion without shell", args: []string{"completion"}, wantErr: true},
		{name: "missing command", args: nil, wantErr: true},
		{name: "status without id", args: []string{"status"}, wantErr: true},
		{name: "unknown command", args: []string{"cancel", "abc"}, wantErr: true},
		{name: "zero interval", args: []string{"-interval", "0s", "status", "abc"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseClientConfig("primectl", tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClientConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestParseClientConfig_ServerFromEnv(t *testing.T) {
	t.Setenv("PRIMECOUNT_SERVER", "http://api.internal:8000")
	cfg, err := ParseClientConfig("primectl", []string{"status", "abc"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseClientConfig() error = %v", err)
	}
	if cfg.Server != "http://api.internal:8000" {
		t.Errorf("Server = %q", cfg.Server)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"false", true, false},
		{"No", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		if got := parseBoolEnv(tt.in, tt.def); got != tt.want {
			t.Errorf("parseBoolEnv(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}
