// Package config loads the gateway configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultDataRoot       = "data"
	DefaultJWTExpiresIn   = "24h"
	DefaultInlineMaxBytes = 1536 * 1024
	DefaultWebhookTimeout = 10
	DefaultPublicBaseURL  = "http://localhost:8080"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Storage StorageConfig `toml:"storage"`
	Media   MediaConfig   `toml:"media"`
	Webhook WebhookConfig `toml:"webhook"`
	Engine  EngineConfig  `toml:"engine"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// StorageConfig locates the on-disk roots. Credentials live under
// <data_root>/credentials, persisted media under <data_root>/media.
type StorageConfig struct {
	DataRoot string `toml:"data_root"`
}

type MediaConfig struct {
	// InlineMaxBytes is the largest decoded attachment that is delivered
	// inline in events; larger attachments carry metadata only.
	InlineMaxBytes int64  `toml:"inline_max_bytes"`
	PublicBaseURL  string `toml:"public_base_url"`
}

type WebhookConfig struct {
	URLs           []string `toml:"urls"`
	Secret         string   `toml:"secret"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// EngineConfig describes how to launch the automation engine runner for a
// session. The runner is an external process; Command and Args are passed to
// exec verbatim, with the session id and credential dir supplied via env.
type EngineConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Load reads and normalizes the config at path, falling back to defaults for
// unset fields. An empty path means DefaultConfigPath; a missing file yields
// a pure-default config.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return withDefaults(cfg), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return withDefaults(cfg), nil
}

func withDefaults(cfg Config) Config {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Storage.DataRoot == "" {
		cfg.Storage.DataRoot = DefaultDataRoot
	}
	if cfg.Media.InlineMaxBytes <= 0 {
		cfg.Media.InlineMaxBytes = DefaultInlineMaxBytes
	}
	if cfg.Media.PublicBaseURL == "" {
		cfg.Media.PublicBaseURL = DefaultPublicBaseURL
	}
	if cfg.Webhook.TimeoutSeconds <= 0 {
		cfg.Webhook.TimeoutSeconds = DefaultWebhookTimeout
	}
	if cfg.Auth.JWTExpiresIn == "" {
		cfg.Auth.JWTExpiresIn = DefaultJWTExpiresIn
	}
	return cfg
}

// CredentialsRoot returns the directory holding per-session credential dirs.
func (c Config) CredentialsRoot() string {
	return filepath.Join(c.Storage.DataRoot, "credentials")
}

// MediaRoot returns the directory holding persisted inbound media.
func (c Config) MediaRoot() string {
	return filepath.Join(c.Storage.DataRoot, "media")
}

// JWTExpiry parses the configured token lifetime.
func (c Config) JWTExpiry() (time.Duration, error) {
	d, err := time.ParseDuration(c.Auth.JWTExpiresIn)
	if err != nil {
		return 0, fmt.Errorf("parse jwt_expires_in: %w", err)
	}
	return d, nil
}
