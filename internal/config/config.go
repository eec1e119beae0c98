package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the per-profile ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string    `toml:"default_profile"`
	Server         Server    `toml:"server"`
	Identity       Identity  `toml:"identity"`
	Transport      Transport `toml:"transport"`
	Presence       Presence  `toml:"presence"`
	Scroll         Scroll    `toml:"scroll"`
}

// Server holds the backend endpoints.
type Server struct {
	SocketURL string `toml:"socket_url"`
	RestURL   string `toml:"rest_url"`
}

// Identity holds the local user identity injected into the engine; chat
// logic never reads it from a global.
type Identity struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// Transport bounds channel reconnection.
type Transport struct {
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBackoffMs int `toml:"retry_backoff_ms"`
}

// Presence holds the typing timer knobs.
type Presence struct {
	LocalIdleMs  int `toml:"local_idle_ms"`
	RemoteHoldMs int `toml:"remote_hold_ms"`
}

// Scroll holds the viewport policy knobs.
type Scroll struct {
	NearBottomPx     int `toml:"near_bottom_px"`
	SettleChecks     int `toml:"settle_checks"`
	SettleIntervalMs int `toml:"settle_interval_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Transport:      Transport{RetryAttempts: 5, RetryBackoffMs: 2000},
		Presence:       Presence{LocalIdleMs: 2000, RemoteHoldMs: 3000},
		Scroll:         Scroll{NearBottomPx: 80, SettleChecks: 5, SettleIntervalMs: 250},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
