package gemini

import (
	"context"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/menta2k/shelf-vision/pkg/client"
)

var _ client.VisionClient = (*Client)(nil)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), "", time.Minute); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestImageFormat(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", "jpeg"},
		{"image/png", "png"},
		{"IMAGE/WEBP", "webp"},
		{"", "png"},
	}

	for _, tt := range tests {
		if got := imageFormat(tt.mime); got != tt.want {
			t.Errorf("imageFormat(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestJoinText(t *testing.T) {
	parts := []genai.Part{
		genai.Text("```json\n"),
		genai.ImageData("png", []byte{1}),
		genai.Text(`{"found": false, "locations": []}`),
		genai.Text("\n```"),
	}
	want := "```json\n{\"found\": false, \"locations\": []}\n```"
	if got := joinText(parts); got != want {
		t.Errorf("joinText() = %q, want %q", got, want)
	}

	if got := joinText(nil); got != "" {
		t.Errorf("joinText(nil) = %q", got)
	}
}
