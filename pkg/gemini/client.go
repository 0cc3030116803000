// Package gemini sends shelf images to Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/menta2k/shelf-vision/pkg/client"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// Client wraps a genai client
type Client struct {
	client  *genai.Client
	timeout time.Duration
}

// NewClient creates a Gemini client authenticated with apiKey
func NewClient(ctx context.Context, apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{client: c, timeout: timeout}, nil
}

// SimpleQuery sends the prompt and the image as inline data and joins the text parts of
// the first candidate
func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, img types.ImagePayload) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.client.GenerativeModel(model).GenerateContent(ctx, genai.Text(prompt), genai.ImageData(imageFormat(img.MIME), img.Data))
	if err != nil {
		return "", fmt.Errorf("gemini generate error: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", client.ErrEmptyResponse
	}

	text := joinText(res.Candidates[0].Content.Parts)
	if text == "" {
		return "", client.ErrEmptyResponse
	}

	return text, nil
}

// imageFormat turns a MIME type into the subtype genai.ImageData expects, e.g. "jpeg"
func imageFormat(mime string) string {
	format := strings.TrimPrefix(strings.ToLower(mime), "image/")
	if format == "" {
		return "png"
	}
	return format
}

func joinText(parts []genai.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// Close releases the underlying connection
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
