package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTaskHistory != 1000 {
		t.Errorf("maxTaskHistory = %d", cfg.MaxTaskHistory)
	}
	if cfg.ActionVerificationTimeout != 10*time.Second {
		t.Errorf("verification timeout = %s", cfg.ActionVerificationTimeout)
	}
	if cfg.Replan.Backoff != 5*time.Second || cfg.Replan.MaxAttempts != 3 {
		t.Errorf("replan = %+v", cfg.Replan)
	}
	if cfg.BotState.Timeout != 5*time.Second {
		t.Errorf("bot state timeout = %s", cfg.BotState.Timeout)
	}
	if !cfg.EnableActionVerification {
		t.Error("verification should default on")
	}
	if cfg.StrictFinalize {
		t.Error("strict finalize defaults off")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".botmind")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `
max_task_history: 50
action_verification_timeout: 30s
replan:
  backoff: 2s
  max_attempts: 5
  exponential: true
logging:
  debug_mode: true
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTaskHistory != 50 {
		t.Errorf("maxTaskHistory = %d", cfg.MaxTaskHistory)
	}
	if cfg.ActionVerificationTimeout != 30*time.Second {
		t.Errorf("timeout = %s", cfg.ActionVerificationTimeout)
	}
	if cfg.Replan.MaxAttempts != 5 || !cfg.Replan.Exponential {
		t.Errorf("replan = %+v", cfg.Replan)
	}
	if !cfg.Logging.DebugMode || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".botmind")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ws); err == nil {
		t.Error("malformed config should error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOTMIND_STRICT_FINALIZE", "1")
	t.Setenv("BOTMIND_HTTP_ADDR", ":4000")
	t.Setenv("BOTMIND_MAX_TASK_HISTORY", "25")
	t.Setenv("BOTMIND_REPLAN_BACKOFF", "250ms")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.StrictFinalize {
		t.Error("strict finalize env override ignored")
	}
	if cfg.HTTP.Addr != ":4000" {
		t.Errorf("addr = %s", cfg.HTTP.Addr)
	}
	if cfg.MaxTaskHistory != 25 {
		t.Errorf("maxTaskHistory = %d", cfg.MaxTaskHistory)
	}
	if cfg.Replan.Backoff != 250*time.Millisecond {
		t.Errorf("backoff = %s", cfg.Replan.Backoff)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("BOTMIND_MAX_TASK_HISTORY", "not-a-number")
	t.Setenv("BOTMIND_REPLAN_BACKOFF", "soon")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTaskHistory != 1000 {
		t.Errorf("maxTaskHistory = %d, garbage should be ignored", cfg.MaxTaskHistory)
	}
	if cfg.Replan.Backoff != 5*time.Second {
		t.Errorf("backoff = %s", cfg.Replan.Backoff)
	}
}
