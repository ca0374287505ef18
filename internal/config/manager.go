// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/chargelink/sessiond/internal/log"
)

// Manager owns the current SessionConfig snapshot. Replacement is wholesale
// and atomic; readers never observe a partially updated config.
type Manager struct {
	current   atomic.Pointer[SessionConfig]
	cachePath string
}

// NewManager seeds the manager with the compiled-in defaults. If cachePath is
// non-empty and holds a previously cached remote config, that snapshot is
// used instead of the defaults.
func NewManager(cachePath string) *Manager {
	m := &Manager{cachePath: cachePath}
	cfg := Defaults()
	m.current.Store(&cfg)

	if cachePath != "" {
		if cached, ok := loadCached(cachePath); ok {
			m.current.Store(&cached)
		}
	}
	return m
}

// Current returns the active snapshot.
func (m *Manager) Current() SessionConfig {
	return *m.current.Load()
}

// Apply validates and installs a new snapshot, and caches it to disk so the
// next launch starts from the last-known-good remote config.
func (m *Manager) Apply(cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.current.Store(&cfg)

	if m.cachePath != "" {
		data, err := json.Marshal(cfg)
		if err == nil {
			err = renameio.WriteFile(m.cachePath, data, 0o644)
		}
		if err != nil {
			lg := log.WithComponent("config")
			lg.Warn().Err(err).
				Str("path", m.cachePath).
				Msg("failed to cache session config")
		}
	}

	lg := log.WithComponent("config")

	lg.Info().
		Str("event", "config.applied").
		Float64("anchor_radius_m", cfg.ChargerAnchorRadiusM).
		Dur("anchor_dwell", cfg.AnchorDwell).
		Dur("grace_period", cfg.GracePeriod).
		Msg("session config replaced")
	return nil
}

func loadCached(path string) (SessionConfig, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, false
	}
	var cfg SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		lg := log.WithComponent("config")
		lg.Warn().Err(err).
			Str("path", path).
			Msg("discarding corrupt config cache")
		return SessionConfig{}, false
	}
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, false
	}
	return cfg, true
}

// Watch hot-reloads session thresholds from a local YAML override file until
// ctx is cancelled. A broken override is logged and skipped; the previous
// snapshot stays active.
func (m *Manager) Watch(ctx context.Context, overridePath string) error {
	if overridePath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(overridePath); err != nil {
		return err
	}

	logger := log.WithComponent("config")
	m.applyOverride(overridePath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Debug().Str("path", ev.Name).Msg("override file changed")
			m.applyOverride(overridePath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (m *Manager) applyOverride(path string) {
	logger := log.WithComponent("config")
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("cannot read override file")
		return
	}
	cfg := m.Current()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("cannot parse override file")
		return
	}
	if err := m.Apply(cfg); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("override rejected by validation")
	}
}
