// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sentria-ai/sentria/pkg/logging"
	"github.com/sentria-ai/sentria/services/gateway"
)

// runServe starts the gateway server in the foreground.
func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.sentria/logs",
		Service: "gateway",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting guardrail gateway",
		"port", loadedConfig.Port,
		"llm_backend", loadedConfig.LLMBackend,
		"weaviate_url", loadedConfig.WeaviateURL,
	)

	svc, err := gateway.New(loadedConfig)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}
