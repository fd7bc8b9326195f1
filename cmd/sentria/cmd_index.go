// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentria-ai/sentria/pkg/ux"
	"github.com/sentria-ai/sentria/services/retrieval"
)

const indexAdminTimeout = 30 * time.Second

// runIndexEnsure creates the evidence schema if it is missing.
func runIndexEnsure(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), indexAdminTimeout)
	defer cancel()

	if err := retrieval.EnsurePolicyDocumentSchema(ctx, weaviateClient()); err != nil {
		log.Fatalf("Failed to ensure evidence schema: %v", err)
	}
	ux.Success("Evidence schema is in place")
}

// runIndexDelete drops the evidence schema and everything in it.
func runIndexDelete(cmd *cobra.Command, args []string) {
	if !forceDelete {
		ux.Warn("This deletes the evidence schema and all indexed documents.")
		ux.Warn("Re-run with --force to confirm.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), indexAdminTimeout)
	defer cancel()

	if err := retrieval.DeletePolicyDocumentSchema(ctx, weaviateClient()); err != nil {
		log.Fatalf("Failed to delete evidence schema: %v", err)
	}
	ux.Success("Evidence schema deleted")
}
