// Package testutil provides testing utilities for isolated test environments.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/councilkb/councilkb/internal/config"
)

// TestEnv provides an isolated test environment with its own config directory.
type TestEnv struct {
	t         *testing.T
	ConfigDir string
}

// NewTestEnv creates an isolated test environment. Environment variables
// point config resolution at a per-test temp directory, so tests stay
// isolated even when they run in parallel across packages. Cleanup is
// automatic via t.Cleanup.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	configDir := filepath.Join(t.TempDir(), "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create test config dir: %v", err)
	}

	t.Setenv("COUNCILKB_CONFIG_DIR", configDir)
	t.Setenv("COUNCILKB_LOG_FILE", filepath.Join(configDir, "councilkb.log"))
	t.Setenv("COUNCILKB_BLOB_SCRATCH_DIR", filepath.Join(configDir, "scratch"))

	config.Reset()
	if err := config.Init(); err != nil {
		t.Fatalf("failed to initialize test config: %v", err)
	}

	env := &TestEnv{
		t:         t,
		ConfigDir: configDir,
	}

	t.Cleanup(func() {
		config.Reset()
	})

	return env
}

// WriteConfig writes a config.yaml into the test config directory and
// reinitializes the config subsystem so it takes effect.
func (e *TestEnv) WriteConfig(content string) {
	e.t.Helper()

	path := filepath.Join(e.ConfigDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write test config: %v", err)
	}

	config.Reset()
	if err := config.Init(); err != nil {
		e.t.Fatalf("failed to reinitialize test config: %v", err)
	}
}

// ScratchDir returns the per-test scratch directory.
func (e *TestEnv) ScratchDir() string {
	return filepath.Join(e.ConfigDir, "scratch")
}
