package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ci-medic.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Analysis AnalysisConfig `yaml:"analysis"`
	CLI      CLIConfig      `yaml:"cli"`
	Store    StoreConfig    `yaml:"store"`
	Logger   LoggerConfig   `yaml:"logger"`
	API      APIConfig      `yaml:"api"`
}

type GitHubConfig struct {
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base"`
	Timeout string `yaml:"timeout"`
}

type AnalysisConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// Timeout bounds a single analysis request. Empty means no timeout.
	Timeout string `yaml:"timeout"`
	// ReuseWindow enables returning a stored diagnosis for an identical
	// failure seen within the window. Empty or "0" disables reuse.
	ReuseWindow string `yaml:"reuse_window"`
}

// CLIActionConfig is one "open in CLI" button.
type CLIActionConfig struct {
	Label    string `yaml:"label"`
	Template string `yaml:"template"`
}

type CLIConfig struct {
	Primary     CLIActionConfig `yaml:"primary"`
	Secondary   CLIActionConfig `yaml:"secondary"`
	TerminalApp string          `yaml:"terminal_app"`
}

type StoreConfig struct {
	Type   string       `yaml:"type"`
	SQLite SQLiteCfg    `yaml:"sqlite"`
	MySQL  MySQLCfg     `yaml:"mysql"`
	JSON   JSONStoreCfg `yaml:"json"`
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

type JSONStoreCfg struct {
	Path          string `yaml:"path"`
	FlushInterval string `yaml:"flush_interval"`
}

type LoggerConfig struct {
	Level      string        `yaml:"level"`
	Console    ConsoleLogCfg `yaml:"console"`
	File       FileLogCfg    `yaml:"file"`
	Structured StructLogCfg  `yaml:"structured"`
}

type ConsoleLogCfg struct {
	Color bool `yaml:"color"`
}

type FileLogCfg struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StructLogCfg struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type APIConfig struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

const (
	defaultPrimaryLabel      = "Claude CLI"
	defaultPrimaryTemplate   = "claude -p {context}"
	defaultSecondaryLabel    = "Kimi CLI"
	defaultSecondaryTemplate = "kimi -y -p {context}"
)

// LoadConfig reads and parses the config file, expanding environment variables.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// Expand ${ENV_VAR} references
		expanded := os.Expand(string(data), func(key string) string {
			return os.Getenv(key)
		})
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.Analysis.APIKey == "" {
		c.Analysis.APIKey = os.Getenv("MINIMAX_API_KEY")
	}
	if c.API.AuthToken == "" {
		c.API.AuthToken = os.Getenv("API_AUTH_TOKEN")
	}
}

func (c *Config) applyDefaults() {
	c.GitHub.Token = strings.TrimSpace(c.GitHub.Token)
	c.Analysis.APIKey = strings.TrimSpace(c.Analysis.APIKey)

	c.CLI.Primary = normalizeAction(c.CLI.Primary, defaultPrimaryLabel, defaultPrimaryTemplate)
	c.CLI.Secondary = normalizeAction(c.CLI.Secondary, defaultSecondaryLabel, defaultSecondaryTemplate)
	c.CLI.TerminalApp = strings.TrimSpace(c.CLI.TerminalApp)
	if c.CLI.TerminalApp == "" {
		c.CLI.TerminalApp = "iTerm"
	}

	if c.GitHub.Timeout == "" {
		c.GitHub.Timeout = "30s"
	}
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./data/ci-medic.db"
	}
	if c.Store.JSON.Path == "" {
		c.Store.JSON.Path = "./data/ci-medic.json"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.File.Enabled && c.Logger.File.Dir == "" {
		c.Logger.File.Dir = "./logs"
	}
	if c.Logger.Structured.Enabled && c.Logger.Structured.Path == "" {
		c.Logger.Structured.Path = "./logs/ci-medic.ndjson"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8787"
	}
}

// normalizeAction trims an action and fills an empty label or template.
func normalizeAction(a CLIActionConfig, label, template string) CLIActionConfig {
	a.Label = strings.TrimSpace(a.Label)
	a.Template = strings.TrimSpace(a.Template)
	if a.Label == "" {
		a.Label = label
	}
	if a.Template == "" {
		a.Template = template
	}
	return a
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
