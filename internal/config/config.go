// Package config loads runtime configuration from mira.yaml and MIRA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree. Components receive their own
// sub-structs; nothing reads viper directly past this package.
type Config struct {
	Timezone string `mapstructure:"timezone"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	LLM struct {
		Provider    string `mapstructure:"provider"`
		Model       string `mapstructure:"model"`
		APIKey      string `mapstructure:"api_key"`
		BaseURL     string `mapstructure:"base_url"`
		TimeoutSecs int    `mapstructure:"timeout_secs"`
		MaxRetries  int    `mapstructure:"max_retries"`
	} `mapstructure:"llm"`

	Agent struct {
		SystemPrompt string  `mapstructure:"system_prompt"`
		Temperature  float64 `mapstructure:"temperature"`
		MaxTokens    int     `mapstructure:"max_tokens"`
	} `mapstructure:"agent"`

	Scheduler struct {
		Enabled          bool `mapstructure:"enabled"`
		PollIntervalSecs int  `mapstructure:"poll_interval_secs"`
	} `mapstructure:"scheduler"`

	Pulse struct {
		Enabled         bool   `mapstructure:"enabled"`
		IntervalMins    int    `mapstructure:"interval_mins"`
		ActiveStartHour int    `mapstructure:"active_start_hour"`
		ActiveEndHour   int    `mapstructure:"active_end_hour"`
		Prompt          string `mapstructure:"prompt"`
	} `mapstructure:"pulse"`

	Reflection struct {
		Enabled          bool `mapstructure:"enabled"`
		Hour             int  `mapstructure:"hour"`
		PollIntervalMins int  `mapstructure:"poll_interval_mins"`
	} `mapstructure:"reflection"`

	Jobs struct {
		File string `mapstructure:"file"`
	} `mapstructure:"jobs"`

	Server struct {
		MetricsAddr string `mapstructure:"metrics_addr"`
	} `mapstructure:"server"`
}

// Load reads configuration. path may be empty; mira.yaml is then searched in
// the working directory. A missing file is fine, defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mira")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the default search may come up empty.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Local")
	v.SetDefault("database.path", "mira.db")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("agent.system_prompt", "You are mira, a personal assistant with long-term memory.")
	v.SetDefault("agent.max_tokens", 2048)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval_secs", 60)
	v.SetDefault("pulse.enabled", true)
	v.SetDefault("pulse.interval_mins", 30)
	v.SetDefault("pulse.active_start_hour", 8)
	v.SetDefault("pulse.active_end_hour", 22)
	v.SetDefault("reflection.enabled", true)
	v.SetDefault("reflection.hour", 22)
	v.SetDefault("reflection.poll_interval_mins", 30)
	v.SetDefault("jobs.file", "jobs.yaml")
	v.SetDefault("server.metrics_addr", ":9091")
}

func (c *Config) validate() error {
	if c.Pulse.ActiveStartHour < 0 || c.Pulse.ActiveStartHour > 23 {
		return fmt.Errorf("config: pulse.active_start_hour %d out of range", c.Pulse.ActiveStartHour)
	}
	if c.Pulse.ActiveEndHour < 0 || c.Pulse.ActiveEndHour > 23 {
		return fmt.Errorf("config: pulse.active_end_hour %d out of range", c.Pulse.ActiveEndHour)
	}
	if c.Reflection.Hour < 0 || c.Reflection.Hour > 23 {
		return fmt.Errorf("config: reflection.hour %d out of range", c.Reflection.Hour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone. Every component doing due-time
// math uses this one zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
