// Package config loads agentd configuration from a YAML file merged over
// built-in defaults, with API keys overridable from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig configures the tool-augmented (runtime) LLM provider.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
}

// OpenAIConfig configures the legacy LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// ServerConfig configures the HTTP chat surface.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
	// ChatTimeout bounds one conversation turn, in seconds.
	ChatTimeout int `yaml:"chat_timeout,omitempty"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path           string `yaml:"path,omitempty"`
	MigrationsPath string `yaml:"migrations_path,omitempty"`
}

// MemoryConfig configures memory maintenance.
type MemoryConfig struct {
	// DecayDays is the last-accessed age beyond which records decay.
	DecayDays int `yaml:"decay_days,omitempty"`
	// MaintenanceSchedule is a cron expression or duration string.
	MaintenanceSchedule string `yaml:"maintenance_schedule,omitempty"`
}

// Config is the root agentd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Memory    MemoryConfig    `yaml:"memory,omitempty"`
	// LogFile, when set, receives JSON logs instead of stdout.
	LogFile string `yaml:"log_file,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        "localhost:8090",
			ChatTimeout: 300,
		},
		Database: DatabaseConfig{
			Path:           "./agentd.db",
			MigrationsPath: "./migrations",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Memory: MemoryConfig{
			DecayDays:           30,
			MaintenanceSchedule: "0 3 * * *",
		},
	}
}

// Load reads the config file at path (if it exists) merged over Default(),
// then applies environment overrides. A missing file is not an error; an
// unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}

	return &cfg, nil
}

// DefaultPath returns the default config file path, overridable via
// AGENTD_CONFIG_PATH.
func DefaultPath() string {
	if envPath := os.Getenv("AGENTD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.agentd/config.yaml"
	}
	return filepath.Join(homeDir, ".agentd", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
