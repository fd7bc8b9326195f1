// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model is the model name, or the Azure deployment name when
	// AzureEndpoint is set.
	Model string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	// Ignored when AzureEndpoint is set.
	BaseURL string

	// AzureEndpoint switches the client to Azure OpenAI, e.g.
	// https://myresource.openai.azure.com.
	AzureEndpoint string

	// MaxRetries is the number of additional attempts after a failed
	// completion call. Zero disables retries.
	MaxRetries int

	// RequestTimeout bounds one completion attempt. Zero means no
	// per-attempt bound beyond the caller's context.
	RequestTimeout time.Duration
}

type OpenAIClient struct {
	client  *openai.Client
	model   string
	retries int
	timeout time.Duration
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}

	var clientCfg openai.ClientConfig
	switch {
	case cfg.AzureEndpoint != "":
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		slog.Info("Initializing Azure OpenAI client", "endpoint", cfg.AzureEndpoint, "deployment", model)
	default:
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		slog.Info("Initializing OpenAI client", "model", model)
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		retries: cfg.MaxRetries,
		timeout: cfg.RequestTimeout,
	}, nil
}

func (o *OpenAIClient) buildRequest(messages []openai.ChatCompletionMessage, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.model)
	req := o.buildRequest([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, params)

	var lastErr error
	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			slog.Warn("Retrying OpenAI completion", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if o.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, o.timeout)
		}
		resp, err := o.client.CreateChatCompletion(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("OpenAI returned no choices")
			continue
		}
		slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
		return resp.Choices[0].Message.Content, nil
	}

	slog.Error("OpenAI API call failed", "error", lastErr, "attempts", o.retries+1)
	return "", fmt.Errorf("OpenAI API call failed after %d attempt(s): %w", o.retries+1, lastErr)
}

// ChatStream implements the LLMClient interface.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams) (TokenStream, error) {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	req := o.buildRequest(chatMessages, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream start failed", "error", err)
		return nil, fmt.Errorf("OpenAI stream start failed: %w", err)
	}
	return &openaiTokenStream{stream: stream}, nil
}

// openaiTokenStream adapts a go-openai completion stream to TokenStream.
type openaiTokenStream struct {
	stream *openai.ChatCompletionStream
	done   bool
}

func (s *openaiTokenStream) Next(ctx context.Context) (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := s.stream.Recv()
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("reading OpenAI stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openaiTokenStream) Close() error {
	s.done = true
	return s.stream.Close()
}
