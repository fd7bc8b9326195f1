// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/sentria-ai/sentria/services/gateway"
)

// --- Global Command Variables ---
var (
	configPath  string
	gatewayURL  string
	plainOutput bool

	corpusBucket   string
	corpusPrefix   string
	corpusWorkers  int
	corpusDryRun   bool
	corpusForce    bool
	corpusDebounce int

	forceDelete bool

	rootCmd = &cobra.Command{
		Use:   "sentria",
		Short: "A cli to manage the Sentria moderated-output gateway",
		Long: `Sentria is a tool for running and operating a RAG-grounded
				content moderation gateway: serve the API, check text against
				policy, chat through the moderated stream, and manage the
				policy corpus behind it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := gateway.LoadConfig(configPath)
			if err != nil {
				log.Fatalf("Error loading configuration: %v", err)
			}
			loadedConfig = cfg
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the guardrail gateway HTTP server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Moderation ---
	checkCmd = &cobra.Command{
		Use:   "check [text]",
		Short: "Check a piece of text against the policy corpus",
		Args:  cobra.ExactArgs(1),
		Run:   runCheck, // Defined in cmd_check.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session through the moderated stream",
		Run:   runChat, // Defined in cmd_chat.go
	}

	// --- Corpus Management ---
	corpusCmd = &cobra.Command{
		Use:   "corpus",
		Short: "Manage the policy corpus behind retrieval",
	}
	corpusSyncCmd = &cobra.Command{
		Use:   "sync [directory]",
		Short: "Sync a local policy directory into object storage and the search index",
		Args:  cobra.ExactArgs(1),
		Run:   runCorpusSync, // Defined in cmd_corpus.go
	}
	corpusWatchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Watch a policy directory and re-sync files as they change",
		Args:  cobra.ExactArgs(1),
		Run:   runCorpusWatch, // Defined in cmd_corpus.go
	}

	// --- Index Administration ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Perform administrative tasks on the evidence index",
	}
	indexEnsureCmd = &cobra.Command{
		Use:   "ensure",
		Short: "Create the evidence schema if it does not exist",
		Run:   runIndexEnsure, // Defined in cmd_index.go
	}
	indexDeleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "DANGER: Deletes the evidence schema and all indexed documents",
		Run:   runIndexDelete, // Defined in cmd_index.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML configuration file (defaults apply when omitted)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&gatewayURL, "gateway-url", "http://localhost:8080",
		"Base URL of a running gateway")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&gatewayURL, "gateway-url", "http://localhost:8080",
		"Base URL of a running gateway")
	chatCmd.Flags().BoolVar(&plainOutput, "plain", false,
		"Plain output without styling (scripting)")

	rootCmd.AddCommand(corpusCmd)
	corpusCmd.AddCommand(corpusSyncCmd)
	corpusSyncCmd.Flags().StringVar(&corpusBucket, "bucket", "",
		"GCS bucket for the corpus archive (omit to index only)")
	corpusSyncCmd.Flags().StringVar(&corpusPrefix, "prefix", "corpus",
		"Object path prefix inside the bucket")
	corpusSyncCmd.Flags().IntVar(&corpusWorkers, "workers", 4,
		"Concurrent file syncs")
	corpusSyncCmd.Flags().BoolVar(&corpusDryRun, "dry-run", false,
		"Log what would be synced without uploading or indexing")
	corpusSyncCmd.Flags().BoolVar(&corpusForce, "force", false,
		"Sync even when the secret scan reports high-confidence findings")
	corpusCmd.AddCommand(corpusWatchCmd)
	corpusWatchCmd.Flags().StringVar(&corpusBucket, "bucket", "",
		"GCS bucket for the corpus archive (omit to index only)")
	corpusWatchCmd.Flags().StringVar(&corpusPrefix, "prefix", "corpus",
		"Object path prefix inside the bucket")
	corpusWatchCmd.Flags().IntVar(&corpusDebounce, "debounce", 500,
		"Debounce window in milliseconds before re-syncing a changed file")

	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexEnsureCmd)
	indexCmd.AddCommand(indexDeleteCmd)
	indexDeleteCmd.Flags().BoolVar(&forceDelete, "force", false,
		"Required to confirm the deletion of all indexed documents")
}
