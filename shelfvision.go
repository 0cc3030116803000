// Package shelfvision inspects shelf photographs with a hosted multimodal language model.
//
// Every image in a folder (or a random sample of it) is sent to the model together with
// a mode specific prompt and the answer is post-processed by the selected mode:
//
//   - label: the trimmed answer is printed as the image label
//   - accuracy: the label is compared with a ground-truth folder layout
//   - products: the answer is parsed as a JSON product list and saved to a results file
//   - boxes: the answer is parsed as bounding boxes that are drawn onto a copy of the image
//   - prompt: the answer is a generated prompt for the image
//
// Basic usage:
//
//	cfg := config.Default()
//	cfg.Mode = types.ModeBoxes
//	cfg.Input.Dir = "photos"
//	cfg.ApplyModeDefaults()
//
//	client, err := shelfvision.NewClient(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	inspector, err := shelfvision.New(cfg, client)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inspector.Close()
//
//	summary, err := inspector.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("found in %d of %d images\n", summary.Found, summary.Total())
package shelfvision

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/menta2k/shelf-vision/internal/config"
	"github.com/menta2k/shelf-vision/pkg/client"
	"github.com/menta2k/shelf-vision/pkg/gemini"
	"github.com/menta2k/shelf-vision/pkg/groundtruth"
	"github.com/menta2k/shelf-vision/pkg/ollama"
	"github.com/menta2k/shelf-vision/pkg/openai"
	"github.com/menta2k/shelf-vision/pkg/pipeline"
	"github.com/menta2k/shelf-vision/pkg/processing"
	"github.com/menta2k/shelf-vision/pkg/prompts"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// Version of the shelf-vision library
const Version = "1.0.0"

// ErrMissingAPIKey is returned when the provider needs a credential and none is set
var ErrMissingAPIKey = errors.New("missing API key")

// Inspector runs batches for one configuration
type Inspector struct {
	cfg      *config.Config
	client   client.VisionClient
	pipeline *pipeline.Pipeline
}

// New creates an Inspector. The configuration must already carry its mode defaults;
// opts are applied after the configuration derived ones.
func New(cfg *config.Config, c client.VisionClient, opts ...pipeline.Option) (*Inspector, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	processorOpts, err := processorOptions(cfg)
	if err != nil {
		return nil, err
	}

	options := []pipeline.Option{pipeline.WithProcessor(processing.NewProcessor(processorOpts))}
	if cfg.Mode == types.ModeAccuracy {
		labeler := groundtruth.New(cfg.GroundTruth.Root, cfg.GroundTruth.Categories)
		labeler.SetUnknown(cfg.GroundTruth.UnknownLabel)
		options = append(options, pipeline.WithLabeler(labeler))
	}
	options = append(options, opts...)

	p, err := pipeline.New(c, pipelineOptions(cfg), options...)
	if err != nil {
		return nil, err
	}

	return &Inspector{cfg: cfg, client: c, pipeline: p}, nil
}

// Run processes one batch and returns its summary
func (i *Inspector) Run(ctx context.Context) (*types.Summary, error) {
	return i.pipeline.Run(ctx)
}

// Close releases the model client when it holds resources
func (i *Inspector) Close() error {
	if closer, ok := i.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NewClient builds the backend selected by cfg.Backend.Provider
func NewClient(ctx context.Context, cfg *config.Config) (client.VisionClient, error) {
	b := cfg.Backend
	key := cfg.APIKey()
	if cfg.NeedsAPIKey() && key == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingAPIKey, b.APIKeyEnv)
	}

	var (
		c   client.VisionClient
		err error
	)
	switch b.Provider {
	case "groq":
		c, err = openai.NewClient(orDefault(b.BaseURL, openai.GroqBaseURL), key, cfg.Timeout())
	case "openai":
		c, err = openai.NewClient(orDefault(b.BaseURL, openai.OpenAIBaseURL), key, cfg.Timeout())
	case "llamacpp":
		c, err = openai.NewClient(orDefault(b.BaseURL, openai.LlamaCppBaseURL), key, cfg.Timeout())
	case "ollama":
		c, err = ollama.NewClient(orDefault(b.BaseURL, ollama.DefaultURL), cfg.Timeout())
	case "gemini":
		c, err = gemini.NewClient(ctx, key, cfg.Timeout())
	default:
		return nil, fmt.Errorf("unknown provider %q", b.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", b.Provider, err)
	}

	return c, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

func processorOptions(cfg *config.Config) (processing.Options, error) {
	opts := processing.DefaultOptions()
	opts.MaxDim = cfg.Send.MaxDim
	opts.SendFormat = cfg.Send.Format
	opts.SendQuality = cfg.Send.Quality
	opts.Stroke = cfg.Annotate.Stroke
	opts.Quality = cfg.Annotate.Quality
	opts.Lossless = cfg.Annotate.Lossless

	if cfg.Annotate.Color != "" {
		c, err := processing.ParseColor(cfg.Annotate.Color)
		if err != nil {
			return opts, err
		}
		opts.Color = c
	}

	return opts, nil
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Mode:       cfg.Mode,
		Model:      cfg.Backend.Model,
		Prompt:     prompts.Resolve(cfg.Mode, cfg.Prompts),
		Dir:        cfg.Input.Dir,
		Extensions: cfg.Input.Extensions,
		SampleSize: cfg.Input.SampleSize,
		Seed:       cfg.Input.Seed,
		Annotate: pipeline.AnnotateOptions{
			Enabled: cfg.Annotate.Enabled,
			Dir:     cfg.Annotate.Dir,
			Prefix:  cfg.Annotate.Prefix,
			Format:  cfg.Annotate.Format,
			Crops:   cfg.Annotate.Crops,
		},
		ResultsFile:       cfg.Output.ResultsFile,
		RequestsPerMinute: cfg.Backend.RequestsPerMinute,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
