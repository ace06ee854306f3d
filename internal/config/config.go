package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/yangchao228/ScoutX/internal/fault"
)

const (
	feishuWebhookEnv  = "SCOUTX_FEISHU_WEBHOOK"
	telegramChatIDEnv = "SCOUTX_TELEGRAM_CHAT_ID"
	apiKeyEnv         = "SCOUTX_API_KEY"
)

// Config holds all configuration for the application
type Config struct {
	Storage    StorageConfig  `yaml:"storage"`
	Sources    []SourceConfig `yaml:"sources"`
	SourcesCSV string         `yaml:"sources_csv"`
	Filters    FilterConfig   `yaml:"filters"`
	LLM        LLMConfig      `yaml:"llm"`
	Notifier   NotifierConfig `yaml:"notifier"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Server     ServerConfig   `yaml:"server"`

	// Process settings, set from flags
	Interval time.Duration `yaml:"-"`
	LogLevel zerolog.Level `yaml:"-"`
}

// StorageConfig points at the ledger database.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// SourceConfig describes one collector source.
type SourceConfig struct {
	Type         string                   `yaml:"type"` // rss or html
	Name         string                   `yaml:"name"`
	URL          string                   `yaml:"url"`
	ListSelector string                   `yaml:"list_selector"`
	Fields       map[string]FieldSelector `yaml:"fields"`
}

// FieldSelector extracts one field from an HTML list row.
type FieldSelector struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Multiple bool   `yaml:"multiple"`
}

// FilterConfig holds keyword lists and the minimum score an item needs to be kept.
type FilterConfig struct {
	AllowKeywords []string `yaml:"allow_keywords"`
	DenyKeywords  []string `yaml:"deny_keywords"`
	MinScore      float64  `yaml:"min_score"`
}

// LLMConfig wires the scoring and generation service.
type LLMConfig struct {
	Enabled             bool    `yaml:"enabled"`
	APIBase             string  `yaml:"api_base"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	Model               string  `yaml:"model"`
	Temperature         float64 `yaml:"temperature"`
	TimeoutSec          int     `yaml:"timeout_sec"`
	FilterSystemPrompt  string  `yaml:"filter_system_prompt"`
	FilterUserPrompt    string  `yaml:"filter_user_prompt"`
	CreatorSystemPrompt string  `yaml:"creator_system_prompt"`
	CreatorUserPrompt   string  `yaml:"creator_user_prompt"`
}

// NotifierConfig holds delivery channel targets.
type NotifierConfig struct {
	FeishuWebhook       string `yaml:"feishu_webhook"`
	DedupChannel        string `yaml:"dedup_channel"`
	TelegramBotTokenEnv string `yaml:"telegram_bot_token_env"`
	TelegramChatID      string `yaml:"telegram_chat_id"`
	TimeoutSec          int    `yaml:"timeout_sec"`
}

// ScheduleConfig gates when a run may push the channel digest.
type ScheduleConfig struct {
	PushHours  []int  `yaml:"push_hours"`
	PushMinute int    `yaml:"push_minute"` // -1 accepts any minute
	Timezone   string `yaml:"timezone"`
}

// ServerConfig holds read-only API settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	WebBaseURL string `yaml:"web_base_url"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		Storage: StorageConfig{SQLitePath: DefaultDBPath},
		Filters: FilterConfig{MinScore: DefaultMinScore},
		LLM: LLMConfig{
			Enabled:             true,
			APIBase:             DefaultLLMAPIBase,
			APIKeyEnv:           DefaultLLMAPIKeyEnv,
			Model:               DefaultLLMModel,
			Temperature:         DefaultLLMTemperature,
			TimeoutSec:          DefaultLLMTimeoutSec,
			FilterSystemPrompt:  "You judge whether a news item is worth reporting. Reply TRUE or FALSE, then a score from 0 to 10, then a short reason.",
			FilterUserPrompt:    "Title: {title}\nURL: {url}\nDescription: {description}\nComments:\n{comments}",
			CreatorSystemPrompt: "You write short social posts summarising news items.",
			CreatorUserPrompt:   "Summarise in a few short paragraphs separated by blank lines.\nTitle: {title}\nURL: {url}\nDescription: {description}",
		},
		Notifier: NotifierConfig{
			DedupChannel: DefaultDedupChannel,
			TimeoutSec:   DefaultNotifyTimeoutSec,
		},
		Schedule: ScheduleConfig{
			PushHours:  append([]int(nil), DefaultPushHours...),
			PushMinute: DefaultPushMinute,
			Timezone:   DefaultTimezone,
		},
		Server: ServerConfig{
			Host:       DefaultServerHost,
			Port:       DefaultServerPort,
			APIKey:     GetEnvString(apiKeyEnv, ""),
			WebBaseURL: DefaultWebBaseURL,
		},
		Interval: time.Duration(DefaultInterval) * time.Minute,
		LogLevel: logLevel,
	}
}

// Load reads the YAML file at path over the defaults and applies environment overrides.
// A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fault.Errorf(fault.Config, "config.Load", "failed to parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fault.New(fault.Config, "config.Load", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(feishuWebhookEnv); v != "" {
		c.Notifier.FeishuWebhook = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifier.TelegramChatID = v
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.SQLitePath) == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	for i, src := range c.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("sources[%d]: name and url are required", i)
		}
		switch src.Type {
		case "rss":
		case "html":
			if src.ListSelector == "" {
				return fmt.Errorf("sources[%d] %s: html source needs list_selector", i, src.Name)
			}
		default:
			return fmt.Errorf("sources[%d] %s: unknown type %q", i, src.Name, src.Type)
		}
	}
	for _, h := range c.Schedule.PushHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("schedule.push_hours: invalid hour %d", h)
		}
	}
	if c.Schedule.PushMinute < -1 || c.Schedule.PushMinute > 59 {
		return fmt.Errorf("schedule.push_minute: invalid minute %d", c.Schedule.PushMinute)
	}
	if c.Notifier.FeishuWebhook != "" && !strings.HasPrefix(c.Notifier.FeishuWebhook, "http") {
		return fmt.Errorf("notifier.feishu_webhook must be an http(s) URL")
	}
	return nil
}

// Location resolves the schedule timezone, falling back to a fixed UTC+8 zone.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.FixedZone("UTC+8", 8*60*60)
	}
	return loc
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
