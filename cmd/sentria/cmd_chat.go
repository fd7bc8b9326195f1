// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentria-ai/sentria/pkg/ux"
	"github.com/sentria-ai/sentria/services/gateway/datatypes"
)

// runChat starts an interactive moderated chat session.
//
// Each turn posts the full conversation to the gateway's streaming
// endpoint and renders the moderated reply as it arrives. Blocked
// replies are not added to the history, so one refused turn does not
// poison the rest of the session.
func runChat(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !plainOutput {
		fmt.Println(ux.Styles.Title.Render("Sentria moderated chat"))
		fmt.Println(ux.Styles.Muted.Render("Type a message, or /quit to exit."))
	}

	var history []datatypes.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)
	client := &http.Client{Timeout: 10 * time.Minute}

	for {
		fmt.Print(ux.Styles.Highlight.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		history = append(history, datatypes.ChatMessage{Role: "user", Content: line})

		answer, ok := streamTurn(ctx, client, history)
		if ctx.Err() != nil {
			break
		}
		if ok {
			history = append(history, datatypes.ChatMessage{Role: "assistant", Content: answer})
		} else {
			// Drop the rejected user turn as well.
			history = history[:len(history)-1]
		}
	}
}

// streamTurn sends one conversation turn and renders the moderated
// stream. Returns the approved answer and whether it should join the
// history.
func streamTurn(ctx context.Context, client *http.Client, history []datatypes.ChatMessage) (string, bool) {
	payload, err := json.Marshal(datatypes.ChatStreamRequest{Messages: history})
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		gatewayURL+"/v1/chat/stream", bytes.NewBuffer(payload))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		ux.Error("Failed to reach the gateway: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var rejection struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(body, &rejection) == nil && rejection.Error != "" {
			ux.Error("%s", rejection.Error)
			if rejection.Reason != "" {
				ux.Info("Reason: %s", rejection.Reason)
			}
		} else {
			ux.Error("The gateway returned an error (%s)", string(body))
		}
		return "", false
	}

	renderer := ux.NewStreamRenderer()
	renderer.Plain = plainOutput
	result, err := renderer.Render(ctx, resp.Body)
	if err != nil {
		if ctx.Err() == nil {
			ux.Error("Stream failed: %v", err)
		}
		return "", false
	}

	if result.Blocked || result.Error != "" || result.Answer == "" {
		return "", false
	}
	return result.Answer, true
}
