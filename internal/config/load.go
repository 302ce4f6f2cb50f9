package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Env variable names for secrets. Secrets never live in the config file.
const (
	EnvPostgresDSN   = "SYNE_POSTGRES_DSN"
	EnvTelegramToken = "SYNE_TELEGRAM_TOKEN"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".syne")
	return &Config{
		Database: DatabaseConfig{
			MinConns: 2,
			MaxConns: 10,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: true},
			CLI:      CLIConfig{Enabled: false},
		},
		Workspace: WorkspaceConfig{
			Dir:          filepath.Join(base, "workspace"),
			AbilitiesDir: filepath.Join(base, "abilities"),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the default config file location (~/.syne/config.json5).
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".syne", "config.json5")
}

// Load reads the config file (JSON5, comments allowed), overlays env secrets,
// and applies defaults. A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if tok := os.Getenv(EnvTelegramToken); tok != "" {
		cfg.Channels.Telegram.Token = tok
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MinConns <= 0 {
		cfg.Database.MinConns = 2
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = Default().Workspace.Dir
	}
	if cfg.Workspace.AbilitiesDir == "" {
		cfg.Workspace.AbilitiesDir = Default().Workspace.AbilitiesDir
	}
	cfg.Workspace.Dir = expandHome(cfg.Workspace.Dir)
	cfg.Workspace.AbilitiesDir = expandHome(cfg.Workspace.AbilitiesDir)
	if cfg.Channels.WhatsApp.DatabasePath == "" {
		cfg.Channels.WhatsApp.DatabasePath = filepath.Join(cfg.Workspace.Dir, "whatsapp.db")
	} else {
		cfg.Channels.WhatsApp.DatabasePath = expandHome(cfg.Channels.WhatsApp.DatabasePath)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "syne"
	}
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") || p == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
