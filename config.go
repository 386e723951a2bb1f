package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the QA service.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Runner   RunnerConfig   `yaml:"runner"`
	Server   ServerConfig   `yaml:"server"`
	Feishu   FeishuCfg      `yaml:"feishu"`
	Store    StoreConfig    `yaml:"store"`
	Logger   LoggerConfig   `yaml:"logger"`
}

type LLMConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	MaxElapsed  string   `yaml:"max_elapsed"`
}

// AnalysisConfig holds QA pipeline options.
type AnalysisConfig struct {
	StorageKey       string `yaml:"storage_key"`
	JSONFixerEnabled bool   `yaml:"json_fixer_enabled"`
	FixerTimeout     string `yaml:"fixer_timeout"`
	FixerMaxChars    int    `yaml:"fixer_max_chars"`
	// Autosave persists a session after every successful job.
	Autosave bool `yaml:"autosave"`
}

type RunnerConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	QueueSize      int    `yaml:"queue_size"`
	DefaultTimeout string `yaml:"default_timeout"`
	RetryCount     int    `yaml:"retry_count"`
	RetryDelay     string `yaml:"retry_delay"`
	HistorySize    int    `yaml:"history_size"`
}

type ServerConfig struct {
	Listen        string `yaml:"listen"`
	AuthToken     string `yaml:"auth_token"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	ModelTimeout  string `yaml:"model_timeout"`
}

type FeishuCfg struct {
	Webhook      string `yaml:"webhook"`
	Timeout      string `yaml:"timeout"`
	RetryCount   int    `yaml:"retry_count"`
	SignKey      string `yaml:"sign_key"`
	DashboardURL string `yaml:"dashboard_url"`
}

type StoreConfig struct {
	Type     string       `yaml:"type"`
	SQLite   SQLiteCfg    `yaml:"sqlite"`
	MySQL    MySQLCfg     `yaml:"mysql"`
	Postgres PostgresCfg  `yaml:"postgres"`
	JSON     JSONStoreCfg `yaml:"json"`
}

type SQLiteCfg struct {
	Path string `yaml:"path"`
}

type MySQLCfg struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

type PostgresCfg struct {
	DSN string `yaml:"dsn"`
}

type JSONStoreCfg struct {
	Path          string `yaml:"path"`
	FlushInterval string `yaml:"flush_interval"`
}

type LoggerConfig struct {
	Level      string        `yaml:"level"`
	Console    ConsoleLogCfg `yaml:"console"`
	Structured StructLogCfg  `yaml:"structured"`
}

type ConsoleLogCfg struct {
	Color bool `yaml:"color"`
}

type StructLogCfg struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig reads and parses the config file, expanding environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${ENV_VAR} references
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4.1-mini"
	}
	if c.LLM.Temperature == nil {
		t := 0.7
		c.LLM.Temperature = &t
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "120s"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.MaxElapsed == "" {
		c.LLM.MaxElapsed = "2m"
	}
	if c.Analysis.StorageKey == "" {
		c.Analysis.StorageKey = "voicebot-qa-storage-v1"
	}
	if c.Analysis.FixerTimeout == "" {
		c.Analysis.FixerTimeout = "60s"
	}
	if c.Analysis.FixerMaxChars == 0 {
		c.Analysis.FixerMaxChars = 20000
	}
	if c.Runner.MaxConcurrency == 0 {
		c.Runner.MaxConcurrency = 2
	}
	if c.Runner.QueueSize == 0 {
		c.Runner.QueueSize = 50
	}
	if c.Runner.DefaultTimeout == "" {
		c.Runner.DefaultTimeout = "30m"
	}
	if c.Runner.RetryDelay == "" {
		c.Runner.RetryDelay = "5s"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.AuthToken == "" {
		c.Server.AuthToken = os.Getenv("QA_API_TOKEN")
	}
	if c.Server.MaxUploadSize == 0 {
		c.Server.MaxUploadSize = 10 << 20
	}
	if c.Server.ModelTimeout == "" {
		c.Server.ModelTimeout = "5m"
	}
	if c.Feishu.Timeout == "" {
		c.Feishu.Timeout = "10s"
	}
	if c.Feishu.RetryCount == 0 {
		c.Feishu.RetryCount = 3
	}
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./data/voicebot-qa.db"
	}
	if c.Store.JSON.Path == "" {
		c.Store.JSON.Path = "./data/voicebot-qa.json"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Structured.Enabled && c.Logger.Structured.Path == "" {
		c.Logger.Structured.Path = "./logs/voicebot-qa.ndjson"
	}
}

// ParseDuration parses a duration string, returning a fallback on error.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
