package config

import (
	"os"
	"path/filepath"
	"testing"
)

// setupHome points HOME at a temp dir so user-config reads and writes
// stay inside the test.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoaderLayeredPrecedence(t *testing.T) {
	home := setupHome(t)

	// User config overrides one field.
	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	if err := os.MkdirAll(filepath.Dir(userPath), 0755); err != nil {
		t.Fatal(err)
	}
	userYAML := "model: \"qwen\"\nmax_retries: 7\n"
	if err := os.WriteFile(userPath, []byte(userYAML), 0644); err != nil {
		t.Fatal(err)
	}

	// Project config in a parent of the working directory overrides
	// the model again; the walk-up should find it.
	project := t.TempDir()
	projectYAML := "model: \"claude-sonnet\"\n"
	if err := os.WriteFile(filepath.Join(project, ProjectConfigFile), []byte(projectYAML), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(project, "sub", "dir")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := NewLoader(nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Project beats user, user beats defaults.
	if cfg.Model != "claude-sonnet" {
		t.Errorf("expected project model claude-sonnet, got %s", cfg.Model)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("expected user max_retries 7, got %d", cfg.MaxRetries)
	}
	if cfg.MaxContextTokens != 8192 {
		t.Errorf("expected default max_context_tokens, got %d", cfg.MaxContextTokens)
	}
}

func TestLoaderNoConfigs(t *testing.T) {
	setupHome(t)
	t.Chdir(t.TempDir())

	cfg, err := NewLoader(nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected default model, got %s", cfg.Model)
	}
}

func TestLoaderInvalidProjectConfig(t *testing.T) {
	setupHome(t)
	project := t.TempDir()

	// A project config that fails validation must fail the load.
	bad := "max_context_tokens: -1\n"
	if err := os.WriteFile(filepath.Join(project, ProjectConfigFile), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(project)

	if _, err := NewLoader(nil).Load(); err == nil {
		t.Fatal("expected validation error for bad project config")
	}
}

func TestLoaderLoadFile(t *testing.T) {
	setupHome(t)
	path := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(path, []byte("model: \"mock\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(nil).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Model != "mock" {
		t.Errorf("expected model mock, got %s", cfg.Model)
	}

	if _, err := NewLoader(nil).LoadFile(filepath.Join(t.TempDir(), "gone.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestEnsureUserConfig(t *testing.T) {
	home := setupHome(t)
	loader := NewLoader(nil)

	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}

	path := filepath.Join(home, UserConfigDir, UserConfigFile)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("user config was not created: %v", err)
	}

	// Second call must leave an edited file alone.
	if err := os.WriteFile(path, []byte("model: \"kept\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() second call error = %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "kept" {
		t.Errorf("EnsureUserConfig overwrote an existing file: model %s", cfg.Model)
	}
}
