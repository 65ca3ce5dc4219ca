//go:build !integration

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"policy-brief-pipeline/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Run("should read yaml and fill defaults", func(t *testing.T) {
		p := writeConfig(t, `
log:
  level: debug
pipeline:
  script:
    max_attempts: 5
    retry_delay: 30s
scheduler:
  weekly_day: monday
storage:
  endpoint: minio:9000
`)
		cfg, err := config.LoadConfig(p, true)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
			t.Errorf("log = %+v", cfg.Log)
		}
		if !cfg.Runtime.Dev {
			t.Error("dev flag not carried")
		}
		sc := cfg.Pipeline.Stage("script")
		if sc.MaxAttempts != 5 || sc.RetryDelay != 30*time.Second {
			t.Errorf("script stage = %+v", sc)
		}
		if sc.Workers <= 0 || sc.VisibilityTimeout <= 0 {
			t.Errorf("script stage defaults missing: %+v", sc)
		}
		if cfg.Scheduler.WeeklyDay != "monday" || cfg.Storage.Endpoint != "minio:9000" {
			t.Errorf("values not read: %+v %+v", cfg.Scheduler, cfg.Storage)
		}
	})

	t.Run("should accept a missing file", func(t *testing.T) {
		cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Admin.Port != 8080 || cfg.AI.Provider != "gemini" {
			t.Errorf("defaults not applied: port %d provider %q", cfg.Admin.Port, cfg.AI.Provider)
		}
	})

	t.Run("should let the environment override secrets", func(t *testing.T) {
		p := writeConfig(t, "database:\n  url: postgres://file\n")
		t.Setenv("BRIEF_DATABASE_URL", "postgres://env")
		t.Setenv("BRIEF_GEMINI_API_KEY", "g-key")

		cfg, err := config.LoadConfig(p, false)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Database.URL != "postgres://env" {
			t.Errorf("database url = %q", cfg.Database.URL)
		}
		if cfg.AI.GeminiKey != "g-key" {
			t.Errorf("gemini key = %q", cfg.AI.GeminiKey)
		}
	})

	t.Run("should reject malformed yaml", func(t *testing.T) {
		p := writeConfig(t, "log: [unterminated")
		if _, err := config.LoadConfig(p, false); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestRequire(t *testing.T) {
	cfg := &config.Config{}
	if cfg.RequireDatabase() == nil || cfg.RequireRedis() == nil || cfg.RequireStorage() == nil {
		t.Fatal("empty config should fail every requirement")
	}
	cfg.Storage.Endpoint = "minio:9000"
	if err := cfg.RequireStorage(); err == nil {
		t.Error("storage without credentials should fail")
	}
	cfg.Storage.AccessKey, cfg.Storage.SecretKey = "a", "s"
	cfg.Database.URL, cfg.Redis.URL = "postgres://x", "redis://x"
	if err := cfg.RequireStorage(); err != nil {
		t.Errorf("storage: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("database: %v", err)
	}
	if err := cfg.RequireRedis(); err != nil {
		t.Errorf("redis: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Run("should pick provider specific models", func(t *testing.T) {
		cfg := &config.Config{AI: config.AIConfig{Provider: "OpenAI"}, TTS: config.TTSConfig{Provider: "elevenlabs"}}
		config.ApplyDefaults(cfg)
		if cfg.AI.Provider != "openai" || cfg.AI.DefaultModel != "gpt-4o-mini" {
			t.Errorf("ai = %+v", cfg.AI)
		}
		if cfg.TTS.Model != "eleven_v3" {
			t.Errorf("tts model = %q", cfg.TTS.Model)
		}
	})

	t.Run("should keep explicit values", func(t *testing.T) {
		cfg := &config.Config{Fetch: config.FetchConfig{MaxArticles: 3}}
		config.ApplyDefaults(cfg)
		if cfg.Fetch.MaxArticles != 3 || cfg.Fetch.MaxBills != 5 {
			t.Errorf("fetch = %+v", cfg.Fetch)
		}
	})

	t.Run("should default every stage attempt ceiling", func(t *testing.T) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		for _, s := range []string{"orchestrate", "fetch", "script", "synthesize", "publish"} {
			if got := cfg.Pipeline.Stage(s).MaxAttempts; got != 8 {
				t.Errorf("%s max attempts = %d, want 8", s, got)
			}
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"max lines below two", func(c *config.Config) { c.Script.MinLines, c.Script.TargetLines, c.Script.MaxLines = 1, 1, 1 }},
		{"max lines below min lines", func(c *config.Config) { c.Script.MinLines, c.Script.MaxLines = 10, 6 }},
		{"target outside bounds", func(c *config.Config) { c.Script.TargetLines = 50 }},
		{"validation attempts reach the ceiling", func(c *config.Config) { c.Script.MaxValidationAttempts = c.Pipeline.Script.MaxAttempts }},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	t.Run("should fail LoadConfig on bad script bounds", func(t *testing.T) {
		p := writeConfig(t, "script:\n  max_lines: 1\n")
		if _, err := config.LoadConfig(p, false); err == nil {
			t.Fatal("expected invalid config error")
		}
	})
}
