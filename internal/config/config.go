package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"gopkg.in/yaml.v3"
)

// Config represents the persisted application configuration.
type Config struct {
	DataDir          string `yaml:"data_dir"`
	FreshMinutes     int    `yaml:"fresh_minutes"`
	ExpireMinutes    int    `yaml:"expire_minutes"`
	SweepMinutes     int    `yaml:"sweep_minutes"`
	FetchTimeoutSec  int    `yaml:"fetch_timeout_seconds"`
	ConsumeOnAdvance bool   `yaml:"consume_on_advance"`
	UserAgent        string `yaml:"user_agent"`
	Proxy            string `yaml:"proxy,omitempty"`
	TLSVerify        bool   `yaml:"tls_verify"`
}

// Defaults returns the baseline configuration used on first run.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".castkeep"),
		FreshMinutes:     30,
		ExpireMinutes:    120,
		SweepMinutes:     10,
		FetchTimeoutSec:  15,
		ConsumeOnAdvance: true,
		UserAgent:        "castkeep/dev",
		TLSVerify:        true,
	}
}

func (c Config) FreshFor() time.Duration {
	return time.Duration(c.FreshMinutes) * time.Minute
}

func (c Config) ExpireAfter() time.Duration {
	return time.Duration(c.ExpireMinutes) * time.Minute
}

func (c Config) SweepEvery() time.Duration {
	return time.Duration(c.SweepMinutes) * time.Minute
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// Ensure loads configuration from the provided path, prompting the user to
// create one if it does not yet exist.
func Ensure(ctx context.Context, path string) (Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg = Defaults()
	if err := bootstrap(ctx, &cfg); err != nil {
		return Config{}, err
	}

	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load reads configuration from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	defaults := Defaults()
	if cfg.FreshMinutes <= 0 {
		cfg.FreshMinutes = defaults.FreshMinutes
	}
	if cfg.ExpireMinutes <= cfg.FreshMinutes {
		cfg.ExpireMinutes = defaults.ExpireMinutes
	}
	if cfg.SweepMinutes <= 0 {
		cfg.SweepMinutes = defaults.SweepMinutes
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = defaults.FetchTimeoutSec
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	return cfg, nil
}

// Save writes configuration back to disk, ensuring directory permissions are restrictive.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(temp, path)
}

func bootstrap(ctx context.Context, cfg *Config) error {
	if fromEnv := strings.TrimSpace(os.Getenv("CASTKEEP_DATA_DIR")); fromEnv != "" {
		resolved, err := expandPath(fromEnv)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(resolved, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		cfg.DataDir = resolved
		return nil
	}

	prompt := &survey.Input{
		Message: "Choose a data directory",
		Default: cfg.DataDir,
	}

	var answer string
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(survey.Required)); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return fmt.Errorf("initialisation interrupted")
		}
		return err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	resolved, err := expandPath(answer)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(resolved, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	cfg.DataDir = resolved
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
