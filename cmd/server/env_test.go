package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOrFlag(t *testing.T) {
	t.Run("returns env when set", func(t *testing.T) {
		t.Setenv("TEST_ENV_OR_FLAG", "from-env")
		flagVal := "from-flag"
		got := envOrFlag("TEST_ENV_OR_FLAG", &flagVal)
		if got != "from-env" {
			t.Errorf("envOrFlag = %q, want %q", got, "from-env")
		}
	})

	t.Run("returns flag when env not set", func(t *testing.T) {
		flagVal := "from-flag"
		got := envOrFlag("UNSET_ENV_VAR_XYZ", &flagVal)
		if got != "from-flag" {
			t.Errorf("envOrFlag = %q, want %q", got, "from-flag")
		}
	})

	t.Run("returns empty when both unset", func(t *testing.T) {
		got := envOrFlag("UNSET_ENV_VAR_XYZ", nil)
		if got != "" {
			t.Errorf("envOrFlag = %q, want empty", got)
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	origConfig, origAddr, origLevel, origFormat := *configFile, *addr, *logLevel, *logFormat
	t.Cleanup(func() {
		*configFile, *addr, *logLevel, *logFormat = origConfig, origAddr, origLevel, origFormat
	})

	*configFile = ""
	*addr = ":8080"
	t.Setenv("GUSTOFLOW_CONFIG", "/etc/gustoflow/hires.yaml")
	t.Setenv("GUSTOFLOW_ADDR", ":9090")
	t.Setenv("GUSTOFLOW_LOG_FORMAT", "json")
	applyEnvOverrides()

	if *configFile != "/etc/gustoflow/hires.yaml" {
		t.Errorf("configFile = %q", *configFile)
	}
	if *addr != ":9090" {
		t.Errorf("addr = %q", *addr)
	}
	if *logFormat != "json" {
		t.Errorf("logFormat = %q", *logFormat)
	}
	if *logLevel != origLevel {
		t.Errorf("logLevel changed without an override: %q", *logLevel)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GUSTOFLOW_TEST_CLIENT_ID=abc123\nGUSTOFLOW_TEST_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GUSTOFLOW_TEST_KEEP", "from-env")
	t.Setenv("GUSTOFLOW_TEST_CLIENT_ID", "")
	os.Unsetenv("GUSTOFLOW_TEST_CLIENT_ID")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("GUSTOFLOW_TEST_CLIENT_ID"); got != "abc123" {
		t.Errorf("GUSTOFLOW_TEST_CLIENT_ID = %q", got)
	}
	if got := os.Getenv("GUSTOFLOW_TEST_KEEP"); got != "from-env" {
		t.Errorf("existing variables must win, got %q", got)
	}

	if err := loadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("a missing file should be ignored, got %v", err)
	}
}
