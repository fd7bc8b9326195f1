// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfigIsValid verifies the defaults pass validation.
func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.InitialBufferSize != 50 {
		t.Errorf("initial_buffer_size = %d, want 50", cfg.InitialBufferSize)
	}
	if cfg.SubsequentBufferSize != 200 {
		t.Errorf("subsequent_buffer_size = %d, want 200", cfg.SubsequentBufferSize)
	}
	if cfg.MaxContextTokens != 2000 {
		t.Errorf("max_context_tokens = %d, want 2000", cfg.MaxContextTokens)
	}
	if cfg.RetrievalTopK != 3 {
		t.Errorf("retrieval_top_k = %d, want 3", cfg.RetrievalTopK)
	}
	if cfg.LLMTimeout() != 30*time.Second {
		t.Errorf("llm timeout = %v, want 30s", cfg.LLMTimeout())
	}
	if cfg.LLMMaxRetries != 3 {
		t.Errorf("llm_max_retries = %d, want 3", cfg.LLMMaxRetries)
	}
	if cfg.LLMTemperature != 0 {
		t.Errorf("llm_temperature = %v, want 0", cfg.LLMTemperature)
	}
}

// TestLoadConfigEmptyPathReturnsDefaults verifies "" yields the defaults.
func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\"): %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("config = %+v, want defaults", cfg)
	}
}

// TestLoadConfigOverridesDefaults verifies file values win over defaults
// while absent keys keep theirs.
func TestLoadConfigOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("initial_buffer_size: 25\nllm_backend: ollama\nollama_url: http://localhost:11434\nllm_model: llama3\nport: 9999\n")
	if err := os.WriteFile(path, content, 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.InitialBufferSize != 25 {
		t.Errorf("initial_buffer_size = %d, want 25", cfg.InitialBufferSize)
	}
	if cfg.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Port)
	}
	if cfg.LLMBackend != "ollama" || cfg.OllamaURL != "http://localhost:11434" {
		t.Errorf("backend not overridden: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.SubsequentBufferSize != 200 {
		t.Errorf("subsequent_buffer_size = %d, want default 200", cfg.SubsequentBufferSize)
	}
}

// TestLoadConfigRejectsInvalid covers validation and parse failures.
func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"negative buffer", "initial_buffer_size: -1\n"},
		{"zero context budget", "max_context_tokens: 0\n"},
		{"unknown backend", "llm_backend: psychic\n"},
		{"ollama without url", "llm_backend: ollama\n"},
		{"temperature out of range", "llm_temperature: 3.5\n"},
		{"malformed yaml", "initial_buffer_size: [\n"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o640); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// TestLoadConfigMissingFile verifies an unreadable path errors.
func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
