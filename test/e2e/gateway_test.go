// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package e2e holds smoke tests against a running gateway.
//
// The tests are skipped unless SENTRIA_E2E_URL points at a live
// deployment, e.g.:
//
//	SENTRIA_E2E_URL=http://localhost:8080 go test ./test/e2e/
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/sentria-ai/sentria/pkg/ux"
	"github.com/sentria-ai/sentria/services/gateway/datatypes"
)

func gatewayURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SENTRIA_E2E_URL")
	if url == "" {
		t.Skip("SENTRIA_E2E_URL not set; skipping e2e test")
	}
	return url
}

func TestHealth(t *testing.T) {
	url := gatewayURL(t)

	resp, err := http.Get(url + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestCheckBenignText(t *testing.T) {
	url := gatewayURL(t)

	payload, _ := json.Marshal(datatypes.CheckRequest{
		Text: "Expense reports above the limit require director approval.",
	})
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url+"/v1/guardrail/check", "application/json",
		bytes.NewBuffer(payload))
	if err != nil {
		t.Fatalf("check request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status = %d", resp.StatusCode)
	}

	var verdict datatypes.CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		t.Fatalf("decoding verdict: %v", err)
	}
	if verdict.Decision == "" {
		t.Error("verdict has no decision")
	}
	if verdict.ElapsedMs < 0 {
		t.Errorf("ElapsedMs = %d", verdict.ElapsedMs)
	}
}

func TestChatStreamVerifies(t *testing.T) {
	url := gatewayURL(t)

	payload, _ := json.Marshal(datatypes.ChatStreamRequest{
		Messages: []datatypes.ChatMessage{
			{Role: "user", Content: "Summarize the travel policy in one sentence."},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		url+"/v1/chat/stream", bytes.NewBuffer(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := ux.NewSSEStreamReader(ux.NewSSEParser())
	result, err := reader.ReadAll(ctx, resp.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}

	if result.Error != "" {
		t.Fatalf("stream errored: %s", result.Error)
	}
	if !result.Blocked && result.Answer == "" {
		t.Error("stream completed with no content and no block")
	}

	verification := ux.NewChainVerifier().VerifyResult(result)
	if !verification.Valid {
		t.Errorf("hash chain verification failed: %s", verification.Reason)
	}
	if !result.Blocked && !verification.AuditVerified {
		t.Error("completed stream did not verify its audit hash")
	}
}
