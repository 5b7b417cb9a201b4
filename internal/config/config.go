package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".dupescan"
	DefaultConfigFile = "config.json"
	DefaultDBFile     = ".dupescan/dupescan.db"
)

// Load reads the config file (using defaults if absent; no file is written) and returns
// a populated Config. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
		// No config file — the defaults set above apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(configPath, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDir creates ~/.dupescan if it doesn't exist.
func EnsureDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(home, DefaultConfigDir), 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values, matching
// spec.md's stated defaults (§4.5, §4.1, §4.8).
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")

	v.SetDefault("vectorstore.driver", "memory")
	v.SetDefault("vectorstore.endpoint", "")
	v.SetDefault("vectorstore.code_collection", "code")
	v.SetDefault("vectorstore.intent_collection", "intent")

	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.base_url", "")
	v.SetDefault("embed.batch_size", 64)
	v.SetDefault("embed.context_window", 8191)
	v.SetDefault("embed.token_budget_factor", 0.95)
	v.SetDefault("embed.intent_mode", "template") // template|llm

	v.SetDefault("chat.provider", "openai")
	v.SetDefault("chat.model", "gpt-4o")
	v.SetDefault("chat.base_url", "")
	v.SetDefault("chat.ollama_url", "http://localhost:11434")

	v.SetDefault("scan.code_similarity_threshold", 0.85)
	v.SetDefault("scan.intent_similarity_threshold", 0.80)
	v.SetDefault("scan.concurrency", 4)

	v.SetDefault("queue.base_backoff_ms", 1000)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.poll_interval_ms", 500)

	v.SetDefault("worker.count", 3)

	v.SetDefault("ratelimit.max_concurrent", 4)
	v.SetDefault("ratelimit.max_retries", 5)
	v.SetDefault("ratelimit.base_backoff_ms", 500)
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
