// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the host-process configuration read from a YAML file with
// environment overrides. Session thresholds live in SessionConfig, not here.
type DaemonConfig struct {
	Listen         string `yaml:"listen,omitempty"`
	DataDir        string `yaml:"dataDir,omitempty"`
	LogLevel       string `yaml:"logLevel,omitempty"`
	BackendBaseURL string `yaml:"backendBaseUrl,omitempty"`
	BackendTimeout string `yaml:"backendTimeout,omitempty"` // e.g. "10s"

	// Bridge inbound protection.
	BridgeRateRPS   int `yaml:"bridgeRateRps,omitempty"`
	BridgeRateBurst int `yaml:"bridgeRateBurst,omitempty"`

	// Optional redis-backed session store; empty selects badger.
	RedisAddr string `yaml:"redisAddr,omitempty"`
	RedisDB   int    `yaml:"redisDb,omitempty"`

	// Optional local session-threshold override file, hot reloaded.
	OverridePath string `yaml:"overridePath,omitempty"`

	// Tracing; empty endpoint disables the exporter.
	TraceEndpoint string  `yaml:"traceEndpoint,omitempty"`
	TraceSampling float64 `yaml:"traceSampling,omitempty"`
}

// LoadDaemonConfig reads the YAML file at path (optional) and applies
// environment overrides on top. Missing file is not an error.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DaemonConfig{
		Listen:          ":8089",
		DataDir:         "./data",
		LogLevel:        "info",
		BackendTimeout:  "10s",
		BridgeRateRPS:   20,
		BridgeRateBurst: 40,
		TraceSampling:   0.1,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.Listen = ParseString("SESSIOND_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("SESSIOND_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString("SESSIOND_LOG_LEVEL", cfg.LogLevel)
	cfg.BackendBaseURL = ParseString("SESSIOND_BACKEND_URL", cfg.BackendBaseURL)
	cfg.BackendTimeout = ParseString("SESSIOND_BACKEND_TIMEOUT", cfg.BackendTimeout)
	cfg.BridgeRateRPS = ParseInt("SESSIOND_BRIDGE_RATE_RPS", cfg.BridgeRateRPS)
	cfg.BridgeRateBurst = ParseInt("SESSIOND_BRIDGE_RATE_BURST", cfg.BridgeRateBurst)
	cfg.RedisAddr = ParseString("SESSIOND_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = ParseInt("SESSIOND_REDIS_DB", cfg.RedisDB)
	cfg.OverridePath = ParseString("SESSIOND_OVERRIDE_PATH", cfg.OverridePath)
	cfg.TraceEndpoint = ParseString("SESSIOND_TRACE_ENDPOINT", cfg.TraceEndpoint)

	return cfg, nil
}

// BackendTimeoutDuration parses the configured backend timeout, defaulting
// to 10s on malformed input.
func (c DaemonConfig) BackendTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.BackendTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
