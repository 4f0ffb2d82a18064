// Package config loads the daemon configuration from <home>/config.yaml,
// applying defaults and environment fallbacks for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-app/inkwell/internal/telemetry"
)

// LLMConfig holds the classifier/synthesizer provider settings.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// Defaults per provider (GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY).
	APIKeyEnv string `yaml:"api_key_env"`
}

// RedisConfig holds fast-tier cache settings. Leave Addr empty to run with
// the durable tier only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// HistoryTTLSeconds is the expiry refreshed on every fast-tier write.
	HistoryTTLSeconds int `yaml:"history_ttl_seconds"`
}

// TelegramConfig holds the optional Telegram notifier settings.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// ChatIDs maps owner ids to Telegram chat ids.
	ChatIDs map[string]int64 `yaml:"chat_ids"`
}

// PersonaConfig controls background persona resynthesis.
type PersonaConfig struct {
	// RefreshHours is the debounce window before a persona is resynthesized.
	RefreshHours int `yaml:"refresh_hours"`
	// BootstrapMinChars marks personas shorter than this as placeholder
	// content that is always eligible for synthesis.
	BootstrapMinChars int `yaml:"bootstrap_min_chars"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath             string `yaml:"db_path"`
	WorkerCount        int    `yaml:"worker_count"`
	TaskTimeoutSeconds int    `yaml:"task_timeout_seconds"`
	MaxHistory         int    `yaml:"max_history"`
	LogLevel           string `yaml:"log_level"`
	Quiet              bool   `yaml:"quiet"`

	LLM      LLMConfig            `yaml:"llm"`
	Redis    RedisConfig          `yaml:"redis"`
	Telegram TelegramConfig       `yaml:"telegram"`
	Persona  PersonaConfig        `yaml:"persona"`
	OTel     telemetry.OTelConfig `yaml:"otel"`

	// ReminderTickSeconds is the reminder scheduler poll interval.
	ReminderTickSeconds int `yaml:"reminder_tick_seconds"`
}

// DefaultHomeDir returns ~/.inkwell, honoring INKWELL_HOME.
func DefaultHomeDir() (string, error) {
	if env := strings.TrimSpace(os.Getenv("INKWELL_HOME")); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".inkwell"), nil
}

// Load reads config.yaml from homeDir, creating defaults if it is missing.
func Load(homeDir string) (*Config, error) {
	cfg := defaults(homeDir)

	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.HomeDir = homeDir
	cfg.applyFloors()
	cfg.applyEnv()
	return cfg, nil
}

func defaults(homeDir string) *Config {
	return &Config{
		HomeDir:             homeDir,
		DBPath:              filepath.Join(homeDir, "inkwell.db"),
		WorkerCount:         4,
		TaskTimeoutSeconds:  120,
		MaxHistory:          40,
		LogLevel:            "info",
		ReminderTickSeconds: 60,
		LLM: LLMConfig{
			Provider: "google",
		},
		Redis: RedisConfig{
			HistoryTTLSeconds: int(6 * time.Hour / time.Second),
		},
		Persona: PersonaConfig{
			RefreshHours:      24,
			BootstrapMinChars: 64,
		},
	}
}

func (c *Config) applyFloors() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.TaskTimeoutSeconds <= 0 {
		c.TaskTimeoutSeconds = 120
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 40
	}
	if c.ReminderTickSeconds <= 0 {
		c.ReminderTickSeconds = 60
	}
	if c.Persona.RefreshHours <= 0 {
		c.Persona.RefreshHours = 24
	}
	if c.Persona.BootstrapMinChars <= 0 {
		c.Persona.BootstrapMinChars = 64
	}
	if c.Redis.HistoryTTLSeconds <= 0 {
		c.Redis.HistoryTTLSeconds = int(6 * time.Hour / time.Second)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.HomeDir, "inkwell.db")
	}
}

// applyEnv resolves secrets from the environment. Secrets never live in the
// YAML file in deployed environments.
func (c *Config) applyEnv() {
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv("INKWELL_TELEGRAM_TOKEN")
	}
	if addr := os.Getenv("INKWELL_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("INKWELL_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
}

// LLMAPIKey resolves the provider API key from the configured or default
// environment variable. Empty means the classifier runs in fallback mode.
func (c *Config) LLMAPIKey() string {
	if env := strings.TrimSpace(c.LLM.APIKeyEnv); env != "" {
		return os.Getenv(env)
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

// TaskTimeout returns the per-task execution timeout.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// HistoryTTL returns the fast-tier expiry window.
func (c *Config) HistoryTTL() time.Duration {
	return time.Duration(c.Redis.HistoryTTLSeconds) * time.Second
}

// ReminderTick returns the reminder scheduler poll interval.
func (c *Config) ReminderTick() time.Duration {
	return time.Duration(c.ReminderTickSeconds) * time.Second
}
