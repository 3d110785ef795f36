// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// Per-mode system prompts. The backend does the actual transformation;
// the mode only selects the instruction framing.
var systemPrompts = map[string]string{
	"compose":        "Rewrite the user's draft so it is clear and well formed. Return only the rewritten text.",
	"search-query":   "Turn the user's input into a concise web search query. Return only the query.",
	"conversational": "You are a helpful assistant. Reply to the user's message.",
	"snippet":        "Expand the provided snippet into polished text, preserving its intent. Return only the expanded text.",
}

// OpenAIClient adapts an OpenAI-compatible completion API to the
// Transport interface.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel sets the model identifier. Empty values are ignored.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a self-hosted OpenAI-compatible
// endpoint. Ignored when empty; the apiKey is still sent.
func WithBaseURL(apiKey, baseURL string) OpenAIOption {
	return func(c *OpenAIClient) {
		if baseURL != "" {
			cfg := openai.DefaultConfig(apiKey)
			cfg.BaseURL = baseURL
			c.client = openai.NewClientWithConfig(cfg)
		}
	}
}

// WithMaxCompletionTokens bounds the response length.
// If n <= 0, this option is ignored.
func WithMaxCompletionTokens(n int) OpenAIOption {
	return func(c *OpenAIClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewOpenAIClient creates a transport backed by an OpenAI-compatible API.
//
// Inputs:
//   - apiKey: API key. Must not be empty.
//   - opts: Optional model/endpoint configuration.
//
// Outputs:
//   - *OpenAIClient: Ready to use transport.
//   - error: Non-nil if apiKey is empty.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transport: api key is required")
	}
	c := &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  DefaultOpenAIModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete implements Transport.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	system, ok := systemPrompts[req.Mode]
	if !ok {
		return nil, &Error{Kind: KindClientError, Err: fmt.Errorf("unknown mode %q", req.Mode)}
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	}
	if c.maxTokens > 0 {
		chatReq.MaxCompletionTokens = c.maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("backend returned no choices")}
	}

	return &Response{
		Result: resp.Choices[0].Message.Content,
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
