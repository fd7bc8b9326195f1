// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the Sentria guardrail gateway HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It loads an optional YAML config file, applies environment variable
// overrides, and starts the server.
//
// # Environment Variables
//
//   - SENTRIA_CONFIG: path to a YAML config file (optional)
//   - SENTRIA_PORT: HTTP server port (default: 8080)
//   - SENTRIA_LLM_BACKEND: LLM provider - openai, ollama (default: openai)
//   - SENTRIA_LLM_MODEL: model or deployment name
//   - SENTRIA_OLLAMA_URL: Ollama server address (ollama backend)
//   - SENTRIA_CACHE_DIR: BadgerDB verdict cache directory (optional)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (empty disables tracing)
//   - OPENAI_API_KEY: OpenAI credential (openai backend)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	SENTRIA_CONFIG=/etc/sentria/gateway.yaml ./gateway
//
//	# Or via container
//	podman-compose up gateway
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/sentria-ai/sentria/services/gateway"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := gateway.LoadConfig(os.Getenv("SENTRIA_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyEnvOverrides(&cfg)

	slog.Info("Starting guardrail gateway",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// applyEnvOverrides layers environment variables over file configuration.
// Only variables that are set override; everything else keeps the file
// or default value.
func applyEnvOverrides(cfg *gateway.Config) {
	cfg.Port = getEnvInt("SENTRIA_PORT", cfg.Port)
	cfg.LLMBackend = getEnvString("SENTRIA_LLM_BACKEND", cfg.LLMBackend)
	cfg.LLMModel = getEnvString("SENTRIA_LLM_MODEL", cfg.LLMModel)
	cfg.OllamaURL = getEnvString("SENTRIA_OLLAMA_URL", cfg.OllamaURL)
	cfg.CacheDir = getEnvString("SENTRIA_CACHE_DIR", cfg.CacheDir)
	cfg.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", cfg.WeaviateURL)
	if _, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
