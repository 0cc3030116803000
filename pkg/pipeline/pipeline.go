// Package pipeline runs one batch: enumerate images, encode each one, ask the model,
// postprocess the answer according to the mode and emit the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/menta2k/shelf-vision/internal/log"
	"github.com/menta2k/shelf-vision/internal/utils"
	"github.com/menta2k/shelf-vision/pkg/client"
	"github.com/menta2k/shelf-vision/pkg/groundtruth"
	"github.com/menta2k/shelf-vision/pkg/processing"
	"github.com/menta2k/shelf-vision/pkg/prompts"
	"github.com/menta2k/shelf-vision/pkg/report"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// AnnotateOptions controls the annotated copies written in boxes mode
type AnnotateOptions struct {
	Enabled bool
	Dir     string
	Prefix  string
	Format  string
	Crops   bool
}

// Options describes one batch
type Options struct {
	Mode       types.Mode
	Model      string
	Prompt     string
	Dir        string
	Extensions []string
	// SampleSize <= 0 processes every image in name order.
	SampleSize int
	Seed       int64
	Annotate   AnnotateOptions
	// ResultsFile is resolved against Dir unless absolute. Empty disables it.
	ResultsFile       string
	RequestsPerMinute float64
}

// Pipeline processes images strictly one after another
type Pipeline struct {
	client    client.VisionClient
	processor *processing.Processor
	labeler   *groundtruth.Labeler
	printer   *report.Printer
	logger    logrus.FieldLogger
	limiter   *rate.Limiter
	rng       *rand.Rand
	opts      Options
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithLogger sets the diagnostics logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPrinter sets where per-image lines and the summary are written
func WithPrinter(printer *report.Printer) Option {
	return func(p *Pipeline) { p.printer = printer }
}

// WithLabeler sets the ground-truth source used by accuracy mode
func WithLabeler(labeler *groundtruth.Labeler) Option {
	return func(p *Pipeline) { p.labeler = labeler }
}

// WithProcessor sets the image processor
func WithProcessor(processor *processing.Processor) Option {
	return func(p *Pipeline) { p.processor = processor }
}

// New creates a pipeline around an already constructed client
func New(c client.VisionClient, opts Options, options ...Option) (*Pipeline, error) {
	if c == nil {
		return nil, errors.New("vision client is required")
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	if opts.Prompt == "" {
		opts.Prompt = prompts.Default(opts.Mode)
	}
	if opts.Annotate.Dir == "" {
		opts.Annotate.Dir = "annotated"
	}

	p := &Pipeline{
		client: c,
		opts:   opts,
	}
	for _, option := range options {
		option(p)
	}

	if p.processor == nil {
		p.processor = processing.NewProcessor(processing.DefaultOptions())
	}
	if p.printer == nil {
		p.printer = report.NewPrinter(nil)
	}
	if p.logger == nil {
		p.logger = log.Discard()
	}
	if opts.Mode == types.ModeAccuracy && p.labeler == nil {
		return nil, errors.New("accuracy mode needs a ground-truth labeler")
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p.rng = rand.New(rand.NewSource(seed))

	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}

	return p, nil
}

// Run processes the sampled images in order. Recoverable problems are recorded on the
// per-image result; a read or model failure stops the batch and is returned together
// with the results gathered so far.
func (p *Pipeline) Run(ctx context.Context) (*types.Summary, error) {
	startedAt := time.Now()
	summary := &types.Summary{
		RunID:     log.NewRunID(startedAt),
		Mode:      p.opts.Mode,
		Model:     p.opts.Model,
		StartedAt: startedAt,
	}
	logger := p.logger.WithFields(log.Fields{"run_id": summary.RunID, "mode": p.opts.Mode})

	files, err := utils.ListImageFiles(p.opts.Dir, p.opts.Extensions)
	if err != nil {
		return summary, err
	}
	sampled := Sample(files, p.opts.SampleSize, p.rng)
	logger.WithFields(log.Fields{"available": len(files), "sampled": len(sampled)}).Info("batch started")

	for _, path := range sampled {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ref := types.ImageRef{Path: path, Name: filepath.Base(path), MIME: utils.MimeType(path)}
		result, err := p.ProcessImage(ctx, ref)
		if err != nil {
			return summary, err
		}

		summary.Add(result)
		p.printer.Result(result)
	}

	if p.opts.ResultsFile != "" {
		out := utils.ResolvePath(p.opts.Dir, p.opts.ResultsFile)
		if err := report.WriteResults(out, summary.Results); err != nil {
			return summary, err
		}
		summary.OutputPath = out
	}

	summary.FinishedAt = time.Now()
	p.printer.Summary(summary)
	logger.WithFields(log.Fields{
		"processed":    summary.Total(),
		"parse_errors": summary.ParseErrors,
		"elapsed":      summary.FinishedAt.Sub(startedAt).Round(time.Millisecond).String(),
	}).Info("batch finished")

	return summary, nil
}

// ProcessImage runs the encode, request and postprocess steps for one image
func (p *Pipeline) ProcessImage(ctx context.Context, ref types.ImageRef) (*types.ImageResult, error) {
	p.printer.Start(p.opts.Mode, ref)

	payload, err := p.processor.PrepareImageForModel(ref)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(log.Fields{
		"file": ref.Name,
		"mime": payload.MIME,
		"size": utils.FormatFileSize(int64(len(payload.Data))),
	}).Debug("sending image")

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := p.client.SimpleQuery(ctx, p.opts.Model, p.opts.Prompt, payload)
	if err != nil {
		return nil, fmt.Errorf("model request for %s failed: %w", ref.Name, err)
	}

	return p.postprocess(ref, payload, raw)
}

// Sample picks n paths without replacement. n <= 0 keeps every path in order; n larger
// than the population returns the whole population.
func Sample(files []string, n int, rng *rand.Rand) []string {
	if n <= 0 {
		return append([]string(nil), files...)
	}
	if n > len(files) {
		n = len(files)
	}

	out := make([]string, 0, n)
	for _, i := range rng.Perm(len(files))[:n] {
		out = append(out, files[i])
	}
	return out
}
