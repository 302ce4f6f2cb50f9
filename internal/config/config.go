// Package config holds the boot configuration: the small set of values Syne
// needs before it can reach Postgres. Everything tunable at runtime lives in
// the config table (internal/store) — this file-level config is only the
// bootstrap surface: database DSN, channel credentials, workspace paths and
// telemetry wiring.
package config

import (
	"sync"
)

// Config is the boot configuration loaded from the JSON5 file plus env.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Channels  ChannelsConfig  `json:"channels"`
	Workspace WorkspaceConfig `json:"workspace"`
	Log       LogConfig       `json:"log,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig configures Postgres.
// The DSN is NEVER read from the config file (secret) — env SYNE_POSTGRES_DSN only.
type DatabaseConfig struct {
	DSN          string `json:"-"`
	MinConns     int    `json:"min_conns,omitempty"` // default 2
	MaxConns     int    `json:"max_conns,omitempty"` // default 10
	MigrationsDir string `json:"migrations_dir,omitempty"`
}

// ChannelsConfig enables channel adapters. Bot tokens come from env or the
// credential store, never from this file.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	CLI      CLIConfig      `json:"cli,omitempty"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env SYNE_TELEGRAM_TOKEN or credential.telegram.bot_token
	Proxy   string `json:"proxy,omitempty"`
}

// WhatsAppConfig configures the whatsmeow channel.
type WhatsAppConfig struct {
	Enabled      bool   `json:"enabled"`
	DatabasePath string `json:"database_path,omitempty"` // sqlite session store (default: <workspace>/whatsapp.db)
}

// CLIConfig configures the interactive terminal channel.
type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// WorkspaceConfig holds filesystem roots the agent may use.
type WorkspaceConfig struct {
	Dir          string `json:"dir,omitempty"`           // default ~/.syne/workspace
	AbilitiesDir string `json:"abilities_dir,omitempty"` // default ~/.syne/abilities
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info" (default), "warn", "error"
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "syne"
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src, preserving c's mutex.
// Used by the file watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = src.Database
	c.Channels = src.Channels
	c.Workspace = src.Workspace
	c.Log = src.Log
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of the current config safe to read without locking.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Database:  c.Database,
		Channels:  c.Channels,
		Workspace: c.Workspace,
		Log:       c.Log,
		Telemetry: c.Telemetry,
	}
}
