// Package config defines the captchad configuration file schema and its
// viper bindings. Values resolve in the usual order: flags, then CAPTCHAD_*
// environment variables, then captchad.yaml, then defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level captchad configuration file.
type Config struct {
	Server Server `yaml:"server"`
	Admin  Admin  `yaml:"admin"`
	Engine Engine `yaml:"engine"`
	Limits Limits `yaml:"limits"`
	Log    Log    `yaml:"log"`
}

// Server controls the HTTP listener.
type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	DataDir     string   `yaml:"data_dir"`
}

// Admin holds the administrator credentials and session lifetime.
type Admin struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SessionTTL string `yaml:"session_ttl"`
}

// Engine locates the external recognition engine.
type Engine struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// Limits bounds request payloads and background work.
type Limits struct {
	MaxImageSize    int64  `yaml:"max_image_size"`
	UsageFlush      string `yaml:"usage_flush_interval"`
	LoginRatePerMin int    `yaml:"login_rate_per_minute"`
}

// Log controls log output.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration captchad runs with when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Host:        "0.0.0.0",
			Port:        6688,
			CORSOrigins: []string{"*"},
		},
		Admin: Admin{
			SessionTTL: "24h",
		},
		Engine: Engine{
			URL:     "http://127.0.0.1:9898",
			Timeout: "30s",
		},
		Limits: Limits{
			MaxImageSize:    5 * 1024 * 1024,
			UsageFlush:      "5s",
			LoginRatePerMin: 10,
		},
		Log: Log{Level: "info"},
	}
}

// Write marshals the configuration to path. The file may hold the admin
// password, so it is not world-readable.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// FromViper builds a Config from the resolved viper state, falling back to
// defaults for anything unset.
func FromViper() Config {
	cfg := Default()

	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetStringSlice("server.cors_origins"); len(v) > 0 {
		cfg.Server.CORSOrigins = v
	}
	if v := viper.GetString("server.data_dir"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := viper.GetString("admin.username"); v != "" {
		cfg.Admin.Username = v
	}
	if v := viper.GetString("admin.password"); v != "" {
		cfg.Admin.Password = v
	}
	if v := viper.GetString("admin.session_ttl"); v != "" {
		cfg.Admin.SessionTTL = v
	}
	if v := viper.GetString("engine.url"); v != "" {
		cfg.Engine.URL = v
	}
	if v := viper.GetString("engine.timeout"); v != "" {
		cfg.Engine.Timeout = v
	}
	if v := viper.GetInt64("limits.max_image_size"); v > 0 {
		cfg.Limits.MaxImageSize = v
	}
	if v := viper.GetString("limits.usage_flush_interval"); v != "" {
		cfg.Limits.UsageFlush = v
	}
	if v := viper.GetInt("limits.login_rate_per_minute"); v > 0 {
		cfg.Limits.LoginRatePerMin = v
	}
	if v := viper.GetString("log.level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg
}

// Duration parses a duration field, returning fallback when unset or
// malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
