package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/clvecadd/internal/config"
)

func TestApplyFlagsOnlyChanged(t *testing.T) {
	if err := rootCmd.ParseFlags([]string{"--backend", "mock", "--strict", "--skip-image-check", "--store", "bolt"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	c := config.DefaultConfig()
	c.Kernel.Path = "from/config.cl"
	c.Logging.Level = "debug"
	applyFlags(rootCmd, c)

	if c.Backend != "mock" {
		t.Errorf("Backend = %q, want mock", c.Backend)
	}
	if c.Errors.Mode != "strict" {
		t.Errorf("Errors.Mode = %q, want strict", c.Errors.Mode)
	}
	if c.RequireImageSupport {
		t.Error("RequireImageSupport should be cleared by --skip-image-check")
	}
	if c.Store.Type != "bolt" {
		t.Errorf("Store.Type = %q, want bolt", c.Store.Type)
	}
	if c.Kernel.Path != "from/config.cl" {
		t.Errorf("Kernel.Path = %q, unset flag must not override config", c.Kernel.Path)
	}
	if c.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, unset flag must not override config", c.Logging.Level)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

// chdir switches into dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestSetupFlagOverridesInvalidEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CLVECADD_STORE", "bogus")

	if err := rootCmd.ParseFlags([]string{"--store", "fs"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if err := setup(rootCmd, nil); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if cfg.Store.Type != "fs" {
		t.Errorf("Store.Type = %q, want fs", cfg.Store.Type)
	}
}

func TestVersionIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, config.DefaultFile), []byte("store:\n  type: bogus\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "clvecadd version ") {
		t.Errorf("Output = %q", out.String())
	}
}
