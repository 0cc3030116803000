// Package openai talks to OpenAI-compatible chat completion endpoints such as Groq,
// OpenAI itself or a local llama.cpp server.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/menta2k/shelf-vision/pkg/client"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// Well-known base URLs
const (
	GroqBaseURL     = "https://api.groq.com/openai/v1"
	OpenAIBaseURL   = "https://api.openai.com/v1"
	LlamaCppBaseURL = "http://localhost:8080/v1"
)

// Client sends multimodal chat completion requests
type Client struct {
	client  *openai.Client
	timeout time.Duration
}

// NewClient creates a client for baseURL. An empty baseURL targets Groq.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	cfg.HTTPClient = &http.Client{}

	return &Client{
		client:  openai.NewClientWithConfig(cfg),
		timeout: timeout,
	}, nil
}

// SimpleQuery sends a text part followed by the image as a data URI and returns the reply
func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, img types.ImagePayload) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: img.DataURI(),
						},
					},
				},
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", client.ErrEmptyResponse
	}

	return content, nil
}
