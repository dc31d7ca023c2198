package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromJSON(t *testing.T) {
	t.Run("full config with models key", func(t *testing.T) {
		jsonData := []byte(`{
			"models": {
				"capabilities": {
					"subject": {
						"description": "Subject capability",
						"preferred": ["model-a"],
						"fallback": ["model-b"]
					}
				},
				"endpoints": {
					"model-a": {
						"provider": "test",
						"model": "test-model"
					}
				},
				"defaults": {
					"model": "model-a"
				}
			}
		}`)

		r, err := LoadFromJSON(jsonData)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}

		if got := r.Resolve(CapabilitySubject); got != "model-a" {
			t.Errorf("expected model-a, got %q", got)
		}
	})

	t.Run("direct registry config", func(t *testing.T) {
		jsonData := []byte(`{
			"capabilities": {
				"judge": {
					"preferred": ["grader"],
					"fallback": ["qwen"]
				}
			},
			"endpoints": {
				"grader": {
					"provider": "openai",
					"url": "https://openrouter.ai/api/v1",
					"model": "google/gemini-2.5-pro",
					"api_key_env": "OPENROUTER_API_KEY"
				}
			}
		}`)

		r, err := LoadFromJSON(jsonData)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}

		if got := r.Resolve(CapabilityJudge); got != "grader" {
			t.Errorf("expected grader, got %q", got)
		}

		endpoint := r.GetEndpoint("grader")
		if endpoint == nil {
			t.Fatal("expected grader endpoint")
		}
		if endpoint.APIKeyEnv != "OPENROUTER_API_KEY" {
			t.Errorf("expected api_key_env to round-trip, got %q", endpoint.APIKeyEnv)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		jsonData := []byte(`not valid json`)

		_, err := LoadFromJSON(jsonData)
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "models.json")

	configContent := []byte(`{
		"models": {
			"capabilities": {
				"fast": {
					"preferred": ["quick-model"],
					"fallback": []
				}
			},
			"endpoints": {
				"quick-model": {
					"provider": "local",
					"model": "quick"
				}
			}
		}
	}`)

	if err := os.WriteFile(configPath, configContent, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	r, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load from file: %v", err)
	}

	if got := r.Resolve(CapabilityFast); got != "quick-model" {
		t.Errorf("expected quick-model, got %q", got)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/models.json")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistryToConfig(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := r.ToConfig()

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if len(cfg.Capabilities) == 0 {
		t.Error("expected capabilities in config")
	}

	if len(cfg.Endpoints) == 0 {
		t.Error("expected endpoints in config")
	}

	// Check that capability keys are strings
	if _, ok := cfg.Capabilities["subject"]; !ok {
		t.Error("expected 'subject' capability in config")
	}
}

func TestSaveToFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")

	original := NewDefaultRegistry()
	if err := original.SaveToFile(path); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	restored, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}

	if got := restored.Resolve(CapabilityJudge); got != "gemini-judge" {
		t.Errorf("expected gemini-judge after roundtrip, got %q", got)
	}
	if err := restored.Validate(); err != nil {
		t.Errorf("reloaded registry should validate: %v", err)
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()

	// Merge new config that swaps the judge
	cfg := &RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"judge": {
				Description: "Updated judge",
				Preferred:   []string{"new-judge"},
				Fallback:    []string{},
			},
		},
		Endpoints: map[string]*EndpointConfig{
			"new-judge": {
				Provider: "openai",
				Model:    "judge-v2",
			},
		},
	}

	r.MergeFromConfig(cfg)

	// Judge should now resolve to the new endpoint
	if got := r.Resolve(CapabilityJudge); got != "new-judge" {
		t.Errorf("expected new-judge after merge, got %q", got)
	}

	// Subject should still resolve to something valid
	if got := r.Resolve(CapabilitySubject); got == "" {
		t.Error("subject capability should resolve to a non-empty model after merge")
	}

	// New endpoint should exist
	if endpoint := r.GetEndpoint("new-judge"); endpoint == nil {
		t.Error("expected new-judge endpoint after merge")
	}

	// Old endpoints should still exist
	if endpoint := r.GetEndpoint("qwen"); endpoint == nil {
		t.Error("expected qwen endpoint to still exist after merge")
	}
}

func TestMergeFromConfigWithDefaults(t *testing.T) {
	r := NewDefaultRegistry()

	cfg := &RegistryConfig{
		Defaults: &DefaultsConfig{
			Model: "custom-default",
		},
	}

	r.MergeFromConfig(cfg)

	// Unknown capability should return new default
	if got := r.Resolve(Capability("unknown")); got != "custom-default" {
		t.Errorf("expected custom-default, got %q", got)
	}
}
