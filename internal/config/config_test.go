package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Not parallel: these tests mutate process-wide state (env vars, the
// package-level config cache).

func TestLoad_FallsBackToDefaultsWhenNoFileExists(t *testing.T) {
	Reset()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := DefaultConfig()
	if cfg.MaxParallel != want.MaxParallel || cfg.UI.ColorScheme != want.UI.ColorScheme {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_ReadsOverridesFromConfigFile(t *testing.T) {
	Reset()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfgDir := filepath.Join(dir, AppName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "max_parallel = 7\n\n[ui]\ncolor_scheme = \"dark\"\nverbose = true\n"
	if err := os.WriteFile(filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxParallel != 7 {
		t.Fatalf("expected max_parallel=7, got %d", cfg.MaxParallel)
	}
	if cfg.UI.ColorScheme != "dark" || !cfg.UI.Verbose {
		t.Fatalf("expected overridden ui block, got %+v", cfg.UI)
	}
}

func TestCreateDefaultConfig_DoesNotOverwriteExistingFile(t *testing.T) {
	Reset()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(dir, AppName, ConfigFileName+"."+ConfigFileExt)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}

	if err := os.WriteFile(path, append(original, []byte("\n# appended\n")...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) == len(original) {
		t.Fatal("expected the appended marker to survive a second CreateDefaultConfig call")
	}
}

func TestGet_CachesLoadedConfigAcrossCalls(t *testing.T) {
	Reset()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	first := Get()
	first.MaxParallel = 99
	second := Get()
	if second.MaxParallel != 99 {
		t.Fatal("expected Get to return the cached pointer, not reload")
	}
	Reset()
}
