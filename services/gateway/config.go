// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the gateway's complete configuration surface.
//
// # Description
//
// Loaded from a YAML file via LoadConfig, with zero values filled in by
// defaults. Secrets (API keys) are never read from the file; they come
// from environment variables at client construction time.
//
// # Fields
//
// Moderation pipeline:
//   - InitialBufferSize: character threshold of the first filter window.
//   - SubsequentBufferSize: character threshold of every later window.
//   - MaxContextTokens: evidence budget for classification prompts.
//   - RetrievalTopK: number of policy documents retrieved per check.
//
// Generation backend:
//   - LLMBackend: "openai" or "ollama".
//   - LLMModel: model or deployment name.
//   - LLMTemperature: sampling temperature for verdicts and replies.
//   - LLMTimeoutSeconds: per-attempt request timeout.
//   - LLMMaxRetries: retries after a failed completion call.
//   - OllamaURL: Ollama server address (ollama backend).
//   - AzureEndpoint: Azure OpenAI endpoint (openai backend, optional).
//
// Infrastructure:
//   - Port: HTTP listen port.
//   - WeaviateURL: vector database URL.
//   - OTelEndpoint: OpenTelemetry collector endpoint.
//   - EnableMetrics: expose Prometheus metrics.
//   - CacheDir: BadgerDB directory for the verdict cache. Empty disables
//     the cache.
//   - CacheTTLMinutes: verdict cache entry lifetime.
//   - RateLimitRPS: sustained requests per second per client. Zero
//     disables rate limiting.
//   - RateLimitBurst: per-client bucket capacity.
type Config struct {
	InitialBufferSize    int     `yaml:"initial_buffer_size" validate:"gt=0"`
	SubsequentBufferSize int     `yaml:"subsequent_buffer_size" validate:"gt=0"`
	MaxContextTokens     int     `yaml:"max_context_tokens" validate:"gt=0"`
	RetrievalTopK        int     `yaml:"retrieval_top_k" validate:"gt=0"`
	HybridAlpha          float32 `yaml:"hybrid_alpha" validate:"gte=0,lte=1"`

	LLMBackend        string  `yaml:"llm_backend" validate:"oneof=openai ollama"`
	LLMModel          string  `yaml:"llm_model"`
	LLMTemperature    float32 `yaml:"llm_temperature" validate:"gte=0,lte=2"`
	LLMTimeoutSeconds int     `yaml:"llm_timeout_seconds" validate:"gt=0"`
	LLMMaxRetries     int     `yaml:"llm_max_retries" validate:"gte=0"`
	OllamaURL         string  `yaml:"ollama_url"`
	AzureEndpoint     string  `yaml:"azure_endpoint"`

	Port            int     `yaml:"port" validate:"gt=0,lte=65535"`
	WeaviateURL     string  `yaml:"weaviate_url" validate:"required"`
	OTelEndpoint    string  `yaml:"otel_endpoint"`
	EnableMetrics   bool    `yaml:"enable_metrics"`
	CacheDir        string  `yaml:"cache_dir"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes" validate:"gte=0"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

// configValidate validates Config structs.
var configValidate = validator.New()

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() Config {
	return Config{
		InitialBufferSize:    50,
		SubsequentBufferSize: 200,
		MaxContextTokens:     2000,
		RetrievalTopK:        3,
		HybridAlpha:          0.5,

		LLMBackend:        "openai",
		LLMTemperature:    0,
		LLMTimeoutSeconds: 30,
		LLMMaxRetries:     3,

		Port:            8080,
		WeaviateURL:     "http://localhost:8081",
		OTelEndpoint:    "localhost:4317",
		EnableMetrics:   true,
		CacheTTLMinutes: 60,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
	}
}

// LoadConfig reads the YAML file at path over the defaults.
//
// # Description
//
// Fields absent from the file keep their default values. An empty path
// returns the defaults unchanged. The merged configuration is validated
// before it is returned.
//
// # Inputs
//
//   - path: YAML config file path, or "" for defaults.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil if the file is unreadable, malformed, or invalid.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraint tags.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.LLMBackend == "ollama" && c.OllamaURL == "" {
		return fmt.Errorf("invalid config: ollama_url required for the ollama backend")
	}
	return nil
}

// LLMTimeout returns the per-attempt request timeout as a duration.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// CacheTTL returns the verdict cache lifetime as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}
