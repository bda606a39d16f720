// Package config provides configuration types for the mxgate service.
// The model profile store lives in profiles.go; this file holds the
// service settings (bind address, timeouts, paths) with the layering
// defaults < gateway.yaml < environment variables.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultGatewayPort is the standard port for the chat gateway
	DefaultGatewayPort = 8166
)

// GatewayConfig holds all configurable gateway parameters
type GatewayConfig struct {
	Host string `yaml:"host"` // Host to bind (default: "127.0.0.1")
	Port int    `yaml:"port"` // Port to listen (default: 8166)

	ProfilePath  string `yaml:"profile_path"`  // Model profile config.json
	TemplatePath string `yaml:"template_path"` // Seed template for config.json
	DBPath       string `yaml:"db_path"`       // Event log database path

	Sender string `yaml:"sender"` // Display name on assistant frames

	HistoryLimit   int `yaml:"history_limit"`   // Turns kept per client (default: 10)
	HistoryClients int `yaml:"history_clients"` // Client windows kept before LRU eviction (default: 256)

	ReadTimeout  time.Duration `yaml:"-"` // HTTP read timeout (default: 120s)
	WriteTimeout time.Duration `yaml:"-"` // HTTP write timeout (default: 180s)
	IdleTimeout  time.Duration `yaml:"-"` // HTTP idle timeout (default: 300s)

	SendTimeout            time.Duration `yaml:"-"` // Per-frame websocket write timeout (default: 5s)
	UpstreamConnectTimeout time.Duration `yaml:"-"` // Completion endpoint connect deadline (default: 30s)
	UpstreamReadTimeout    time.Duration `yaml:"-"` // Deadline per streamed chunk (default: 60s)

	MaxBodyChat int64 `yaml:"-"` // Max body size for chat requests (default: 2MB)
}

// DefaultGatewayConfig returns the default gateway configuration
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Host:                   "127.0.0.1",
		Port:                   DefaultGatewayPort,
		ProfilePath:            "config/config.json",
		TemplatePath:           "config/config.template.json",
		DBPath:                 "db/mxgate.db",
		Sender:                 "MXChat",
		HistoryLimit:           10,
		HistoryClients:         256,
		ReadTimeout:            120 * time.Second,
		WriteTimeout:           180 * time.Second,
		IdleTimeout:            300 * time.Second,
		SendTimeout:            5 * time.Second,
		UpstreamConnectTimeout: 30 * time.Second,
		UpstreamReadTimeout:    60 * time.Second,
		MaxBodyChat:            2 * 1024 * 1024, // 2MB
	}
}

// LoadGatewayConfig builds the effective configuration: code defaults,
// then gateway.yaml if present, then MXGATE_* environment variables.
// A missing yaml file is not an error; a malformed one is.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv applies MXGATE_* overrides from the given lookup function.
func (c *GatewayConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv("MXGATE_HOST"); v != "" {
		c.Host = v
	}
	if v := getenv("MXGATE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Port = p
		}
	}
	if v := getenv("MXGATE_PROFILE_PATH"); v != "" {
		c.ProfilePath = v
	}
	if v := getenv("MXGATE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("MXGATE_SENDER"); v != "" {
		c.Sender = v
	}
}

// ReadEnvConfig reads a KEY=VALUE env.config file. Used as a fallback
// lookup for the same MXGATE_* keys when the process environment does
// not set them.
func ReadEnvConfig(path string) map[string]string {
	config := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return config
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		config[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return config
}
