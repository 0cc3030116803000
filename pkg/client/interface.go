package client

import (
	"context"
	"errors"

	"github.com/menta2k/shelf-vision/pkg/types"
)

// ErrEmptyResponse is returned when the model answers without any text
var ErrEmptyResponse = errors.New("empty response from model")

// VisionClient sends one prompt plus one image to a multimodal model and returns its text
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt string, img types.ImagePayload) (string, error)
}
