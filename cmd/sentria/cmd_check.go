// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentria-ai/sentria/pkg/ux"
	"github.com/sentria-ai/sentria/services/gateway/datatypes"
)

// runCheck sends text to a running gateway's check endpoint and prints
// the verdict with its evidence.
func runCheck(cmd *cobra.Command, args []string) {
	payload, err := json.Marshal(datatypes.CheckRequest{Text: args[0]})
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(gatewayURL+"/v1/guardrail/check", "application/json",
		bytes.NewBuffer(payload))
	if err != nil {
		log.Fatalf("Failed to call the gateway: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("The gateway returned an error (%s)", string(body))
	}

	var verdict datatypes.CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		log.Fatalf("Failed to parse the gateway response: %v", err)
	}

	printVerdict(verdict)
}

// printVerdict renders a check verdict on the terminal.
func printVerdict(verdict datatypes.CheckResponse) {
	switch verdict.Decision {
	case "SAFE":
		ux.Success("SAFE (%dms)", verdict.ElapsedMs)
	case "HARMFUL":
		ux.Error("HARMFUL: %s (%dms)", verdict.Reason, verdict.ElapsedMs)
	case "CANNOT_DETERMINE":
		ux.Warn("CANNOT_DETERMINE: %s (%dms)", verdict.Reason, verdict.ElapsedMs)
	default:
		ux.Warn("%s: %s (%dms)", verdict.Decision, verdict.Reason, verdict.ElapsedMs)
	}

	if len(verdict.Evidence) == 0 {
		return
	}
	fmt.Println(ux.Styles.Subtitle.Render("Evidence:"))
	for _, doc := range verdict.Evidence {
		marker := ux.Styles.StatusOK.String()
		if !doc.Resolved {
			marker = ux.Styles.StatusWarning.String()
		}
		fmt.Printf("  %s %s\n", marker, doc.Filename)
		if doc.Preview != "" {
			fmt.Println(ux.Styles.Muted.Render("      " + doc.Preview))
		}
	}
}
