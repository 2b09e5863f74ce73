package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.PollIntervalSecs != 60 {
		t.Errorf("scheduler.poll_interval_secs = %d, want 60", cfg.Scheduler.PollIntervalSecs)
	}
	if cfg.Pulse.ActiveStartHour != 8 || cfg.Pulse.ActiveEndHour != 22 {
		t.Errorf("pulse window = %d-%d, want 8-22", cfg.Pulse.ActiveStartHour, cfg.Pulse.ActiveEndHour)
	}
	if cfg.Reflection.Hour != 22 {
		t.Errorf("reflection.hour = %d, want 22", cfg.Reflection.Hour)
	}
	if !cfg.Scheduler.Enabled || !cfg.Pulse.Enabled || !cfg.Reflection.Enabled {
		t.Error("loops should default to enabled")
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mira.yaml")
	content := `
timezone: UTC
database:
  path: /tmp/test.db
pulse:
  active_start_hour: 9
  active_end_hour: 18
reflection:
  enabled: false
  hour: 23
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Pulse.ActiveStartHour != 9 || cfg.Pulse.ActiveEndHour != 18 {
		t.Errorf("pulse window = %d-%d", cfg.Pulse.ActiveStartHour, cfg.Pulse.ActiveEndHour)
	}
	if cfg.Reflection.Enabled {
		t.Error("reflection.enabled override lost")
	}
	// Untouched keys keep their defaults.
	if cfg.Scheduler.PollIntervalSecs != 60 {
		t.Errorf("scheduler default lost: %d", cfg.Scheduler.PollIntervalSecs)
	}

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "UTC" {
		t.Errorf("location = %s, want UTC", loc)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MIRA_LLM_MODEL", "test-model")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("llm.model = %q, want env override", cfg.LLM.Model)
	}
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	for name, content := range map[string]string{
		"bad hour":     "reflection:\n  hour: 25\n",
		"bad window":   "pulse:\n  active_end_hour: -1\n",
		"bad timezone": "timezone: Not/AZone\n",
	} {
		path := filepath.Join(t.TempDir(), "mira.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoad_MissingExplicitFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
