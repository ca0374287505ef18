// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chargelink/sessiond/internal/config"
	"github.com/chargelink/sessiond/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. Failing fast here beats discovering a read-only data dir on the
// first session persist.
func PerformStartupChecks(_ context.Context, cfg config.DaemonConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.Listen); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkBackendURL(logger, cfg.BackendBaseURL); err != nil {
		return fmt.Errorf("backend URL check failed: %w", err)
	}
	checkDataDirUnderTemp(logger, cfg.DataDir)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("path", path).Msg("data directory missing, creating")
			return os.MkdirAll(path, 0750)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("listen address is valid")
	return nil
}

func checkBackendURL(logger zerolog.Logger, raw string) error {
	if raw == "" {
		// Backend is optional during local development; emissions fail and
		// escalate through the bridge instead.
		logger.Warn().Msg("backend base URL not configured; event emissions will fail")
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid SESSIOND_BACKEND_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("SESSIOND_BACKEND_URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("SESSIOND_BACKEND_URL has no host")
	}
	logger.Info().Str("url", raw).Msg("backend URL is valid")
	return nil
}

func checkDataDirUnderTemp(logger zerolog.Logger, dataDir string) {
	tempDir := filepath.Clean(os.TempDir())
	cleaned := filepath.Clean(dataDir)
	if tempDir != "." && (cleaned == tempDir || strings.HasPrefix(cleaned, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", dataDir).
			Msg("data directory is under temp; persisted sessions may be lost on reboot")
	}
}
