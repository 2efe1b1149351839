// Package config loads botmind configuration from YAML with environment
// overrides. The config file lives at <workspace>/.botmind/config.yaml;
// a missing file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full recognized option set.
type Config struct {
	Workspace string `yaml:"-"`

	EnableRealTimeUpdates  bool `yaml:"enable_real_time_updates"`
	EnableProgressTracking bool `yaml:"enable_progress_tracking"`
	EnableTaskStatistics   bool `yaml:"enable_task_statistics"`
	EnableTaskHistory      bool `yaml:"enable_task_history"`
	MaxTaskHistory         int  `yaml:"max_task_history"`

	ProgressUpdateInterval    time.Duration `yaml:"progress_update_interval"`
	EnableActionVerification  bool          `yaml:"enable_action_verification"`
	ActionVerificationTimeout time.Duration `yaml:"action_verification_timeout"`
	StrictConvertEligibility  bool          `yaml:"strict_convert_eligibility"`

	// StrictFinalize escalates missing-origin persistence to a violation
	// event. Env-driven only (BOTMIND_STRICT_FINALIZE=1), never from file.
	StrictFinalize bool `yaml:"-"`

	BotState BotStateConfig `yaml:"bot_state"`
	HTTP     HTTPConfig     `yaml:"http"`
	Replan   ReplanConfig   `yaml:"replan"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BotStateConfig configures the read-only bot state client.
type BotStateConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig configures the management API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ReplanConfig bounds the replan scheduler.
type ReplanConfig struct {
	Backoff     time.Duration `yaml:"backoff"`
	MaxAttempts int           `yaml:"max_attempts"`
	Exponential bool          `yaml:"exponential"`
}

// LoggingConfig gates the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		EnableRealTimeUpdates:     true,
		EnableProgressTracking:    true,
		EnableTaskStatistics:      true,
		EnableTaskHistory:         true,
		MaxTaskHistory:            1000,
		ProgressUpdateInterval:    5 * time.Second,
		EnableActionVerification:  true,
		ActionVerificationTimeout: 10 * time.Second,
		StrictConvertEligibility:  false,
		BotState: BotStateConfig{
			BaseURL: "http://localhost:3005",
			Timeout: 5 * time.Second,
		},
		HTTP:   HTTPConfig{Addr: ":3010"},
		Replan: ReplanConfig{Backoff: 5 * time.Second, MaxAttempts: 3},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config for a workspace, layering file values and env overrides
// on top of defaults.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".botmind", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers BOTMIND_* environment variables over the loaded
// values. Unparseable values are ignored, keeping startup resilient.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOTMIND_STRICT_FINALIZE"); v != "" {
		cfg.StrictFinalize = v == "1" || v == "true"
	}
	if v := os.Getenv("BOTMIND_BOT_STATE_URL"); v != "" {
		cfg.BotState.BaseURL = v
	}
	if v := os.Getenv("BOTMIND_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("BOTMIND_MAX_TASK_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTaskHistory = n
		}
	}
	if v := os.Getenv("BOTMIND_DEBUG"); v != "" {
		cfg.Logging.DebugMode = v == "1" || v == "true"
	}
	if v := os.Getenv("BOTMIND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BOTMIND_REPLAN_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Replan.Backoff = d
		}
	}
}
