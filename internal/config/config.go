package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.msgd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	ServerURL      string `toml:"server_url"` // REST base, e.g. https://api.example.com
	SocketURL      string `toml:"socket_url"` // websocket endpoint, e.g. wss://api.example.com/ws
	UserID         string `toml:"user_id"`
	Token          string `toml:"token"`
	HistoryLimit   int    `toml:"history_limit"` // messages per history load; 0 = server default

	// Tunables in milliseconds; zero means the built-in default.
	BackoffBaseMS int `toml:"backoff_base_ms"`
	BackoffCapMS  int `toml:"backoff_cap_ms"`
	AckTimeoutMS  int `toml:"ack_timeout_ms"`
	TypingQuietMS int `toml:"typing_quiet_ms"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
