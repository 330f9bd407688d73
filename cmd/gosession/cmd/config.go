package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the config file is read.
const (
	envBaseURL = "GOSESSION_BASE_URL"
	envSealKey = "GOSESSION_SEAL_KEY"
)

// fileConfig is the on-disk configuration of the CLI.
type fileConfig struct {
	// BaseURL is the authentication server. Ignored in demo mode.
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	LogLevel string        `yaml:"log_level"`
	TabID    string        `yaml:"tab_id"`
	// SealKey is a hex-encoded key that encrypts the stored record.
	SealKey   string          `yaml:"seal_key"`
	Storage   storageConfig   `yaml:"storage"`
	Broadcast broadcastConfig `yaml:"broadcast"`
	Idle      idleConfig      `yaml:"idle"`
	Audit     bool            `yaml:"audit"`
	Metrics   bool            `yaml:"metrics"`
}

type storageConfig struct {
	// Driver is one of memory, file, bolt or redis.
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	Bucket    string `yaml:"bucket"`
	RedisAddr string `yaml:"redis_addr"`
	Namespace string `yaml:"namespace"`
}

type broadcastConfig struct {
	// Driver is one of memory, redis or nats.
	Driver    string `yaml:"driver"`
	URL       string `yaml:"url"`
	Channel   string `yaml:"channel"`
	RedisAddr string `yaml:"redis_addr"`
}

type idleConfig struct {
	Budget      time.Duration `yaml:"budget"`
	WarningLead time.Duration `yaml:"warning_lead"`
	Exempt      bool          `yaml:"exempt"`
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{
		Timeout:  15 * time.Second,
		LogLevel: "warn",
		Storage: storageConfig{
			Driver:    "bolt",
			Path:      defaultDataPath("session.db"),
			Bucket:    "gosession",
			Namespace: "gosession",
		},
		Broadcast: broadcastConfig{
			Driver:  "memory",
			Channel: "gosession.tabs",
		},
		Idle: idleConfig{
			Budget:      30 * time.Minute,
			WarningLead: 5 * time.Minute,
		},
	}
}

func defaultDataPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gosession", name)
}

// loadConfig reads path over the defaults. An empty path uses defaults only.
func loadConfig(path string) (*fileConfig, error) {
	cfg := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(envSealKey); v != "" {
		cfg.SealKey = v
	}
	return cfg, nil
}

// Validate checks the fields the CLI interprets itself. Manager settings are
// validated again when the manager is built.
func (c *fileConfig) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "file", "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Broadcast.Driver {
	case "", "memory":
	case "redis":
		if c.Broadcast.RedisAddr == "" && c.Storage.RedisAddr == "" {
			return errors.New("broadcast.redis_addr is required for the redis driver")
		}
	case "nats":
		if c.Broadcast.URL == "" {
			return errors.New("broadcast.url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown broadcast.driver %q", c.Broadcast.Driver)
	}

	if _, err := c.sealKey(); err != nil {
		return err
	}
	return nil
}

func (c *fileConfig) sealKey() ([]byte, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("seal_key must be hex: %w", err)
	}
	return key, nil
}
