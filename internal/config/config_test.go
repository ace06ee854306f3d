package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  sqlite_path: /tmp/scout.db
sources:
  - type: rss
    name: qbitai
    url: https://www.qbitai.com/feed
  - type: html
    name: 36kr_news
    url: https://36kr.com/newsflashes
    list_selector: .newsflash-item
    fields:
      title: {selector: .item-title}
      url: {selector: a, attr: href}
filters:
  deny_keywords: [广告]
llm:
  enabled: false
schedule:
  push_hours: [9, 18]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.SQLitePath != "/tmp/scout.db" {
		t.Errorf("sqlite path = %q", cfg.Storage.SQLitePath)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1].Fields["url"].Attr != "href" {
		t.Errorf("unexpected sources: %+v", cfg.Sources)
	}
	if cfg.Filters.MinScore != DefaultMinScore {
		t.Errorf("min score default lost: %v", cfg.Filters.MinScore)
	}
	if cfg.LLM.Enabled {
		t.Errorf("llm.enabled should be false")
	}
	if cfg.LLM.Model != DefaultLLMModel {
		t.Errorf("llm.model default lost: %q", cfg.LLM.Model)
	}
	if len(cfg.Schedule.PushHours) != 2 || cfg.Schedule.PushHours[0] != 9 {
		t.Errorf("push hours = %v", cfg.Schedule.PushHours)
	}
	if cfg.Notifier.DedupChannel != DefaultDedupChannel {
		t.Errorf("dedup channel = %q", cfg.Notifier.DedupChannel)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.SQLitePath != DefaultDBPath {
		t.Fatalf("expected default db path, got %q", cfg.Storage.SQLitePath)
	}
}

func TestLoad_EnvOverridesWebhook(t *testing.T) {
	t.Setenv(feishuWebhookEnv, "https://open.feishu.cn/hook/abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifier.FeishuWebhook != "https://open.feishu.cn/hook/abc" {
		t.Fatalf("webhook override not applied: %q", cfg.Notifier.FeishuWebhook)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source type", func(c *Config) {
			c.Sources = []SourceConfig{{Type: "json", Name: "x", URL: "https://x"}}
		}},
		{"html without selector", func(c *Config) {
			c.Sources = []SourceConfig{{Type: "html", Name: "x", URL: "https://x"}}
		}},
		{"bad push hour", func(c *Config) { c.Schedule.PushHours = []int{24} }},
		{"bad webhook", func(c *Config) { c.Notifier.FeishuWebhook = "ftp://x" }},
		{"empty db path", func(c *Config) { c.Storage.SQLitePath = " " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRequireEnv(t *testing.T) {
	t.Setenv("SCOUTX_TEST_SECRET", "s3cret")

	if v, err := RequireEnv("SCOUTX_TEST_SECRET"); err != nil || v != "s3cret" {
		t.Fatalf("RequireEnv = %q, %v", v, err)
	}
	if _, err := RequireEnv("SCOUTX_TEST_SECRET_ABSENT"); err == nil {
		t.Fatalf("expected error for missing secret")
	}
	if _, err := RequireEnv(""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SCOUTX_TEST_INT", "12")
	t.Setenv("SCOUTX_TEST_BAD_INT", "x")
	t.Setenv("SCOUTX_TEST_BOOL", "false")
	t.Setenv("SCOUTX_TEST_DURATION", "90s")
	t.Setenv("SCOUTX_TEST_MINUTES", "5")

	if got := GetEnvInt("SCOUTX_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("SCOUTX_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("GetEnvInt with bad value = %d", got)
	}
	if got := GetEnvBool("SCOUTX_TEST_BOOL", true); got {
		t.Errorf("GetEnvBool = %v", got)
	}
	if got := GetEnvBool("SCOUTX_TEST_BOOL_ABSENT", true); !got {
		t.Errorf("GetEnvBool default = %v", got)
	}
	if got := GetEnvDuration("SCOUTX_TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %v", got)
	}
	if got := GetEnvDuration("SCOUTX_TEST_MINUTES", 0); got != 5*time.Minute {
		t.Errorf("GetEnvDuration minutes = %v", got)
	}
}
