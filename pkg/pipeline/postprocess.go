package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/menta2k/shelf-vision/internal/log"
	"github.com/menta2k/shelf-vision/internal/utils"
	"github.com/menta2k/shelf-vision/pkg/groundtruth"
	"github.com/menta2k/shelf-vision/pkg/processing"
	"github.com/menta2k/shelf-vision/pkg/response"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// postprocessor turns the raw answer for one image into a result. An error return
// aborts the batch; recoverable problems belong on the result.
type postprocessor func(p *Pipeline, ref types.ImageRef, payload types.ImagePayload, raw string) (*types.ImageResult, error)

var postprocessors = map[types.Mode]postprocessor{
	types.ModeLabel:    labelResult,
	types.ModeAccuracy: accuracyResult,
	types.ModeProducts: productsResult,
	types.ModeBoxes:    boxesResult,
	types.ModePrompt:   promptResult,
}

func (p *Pipeline) postprocess(ref types.ImageRef, payload types.ImagePayload, raw string) (*types.ImageResult, error) {
	fn, ok := postprocessors[p.opts.Mode]
	if !ok {
		return nil, fmt.Errorf("no postprocessing for mode %q", p.opts.Mode)
	}
	return fn(p, ref, payload, raw)
}

func labelResult(p *Pipeline, ref types.ImageRef, _ types.ImagePayload, raw string) (*types.ImageResult, error) {
	return &types.ImageResult{File: ref.Name, Mode: types.ModeLabel, Label: response.Label(raw)}, nil
}

func accuracyResult(p *Pipeline, ref types.ImageRef, _ types.ImagePayload, raw string) (*types.ImageResult, error) {
	result := &types.ImageResult{File: ref.Name, Mode: types.ModeAccuracy, Label: response.Label(raw)}

	truth, err := p.labeler.Lookup(ref.Name)
	result.GroundTruth = truth

	var ambiguous *groundtruth.AmbiguousError
	switch {
	case errors.As(err, &ambiguous):
		// counted in the total, never as correct
		p.logger.WithFields(log.Fields{"file": ref.Name, "matches": ambiguous.Matches}).Warn("ambiguous ground truth")
		result.Warnings = append(result.Warnings, ambiguous.Error())
	case err != nil:
		return nil, err
	default:
		result.Correct = result.Label == truth
	}

	return result, nil
}

func productsResult(p *Pipeline, ref types.ImageRef, _ types.ImagePayload, raw string) (*types.ImageResult, error) {
	result := &types.ImageResult{File: ref.Name, Mode: types.ModeProducts}

	var products any
	if _, perr := response.Parse(raw, &products); perr != nil {
		p.logger.WithFields(log.Fields{"file": ref.Name, "error": perr.Error}).Warn("could not parse model answer")
		result.ParseError = perr
		return result, nil
	}
	result.Products = products

	return result, nil
}

func promptResult(p *Pipeline, ref types.ImageRef, _ types.ImagePayload, raw string) (*types.ImageResult, error) {
	return &types.ImageResult{File: ref.Name, Mode: types.ModePrompt, Prompt: response.StripFences(raw)}, nil
}

func boxesResult(p *Pipeline, ref types.ImageRef, payload types.ImagePayload, raw string) (*types.ImageResult, error) {
	result := &types.ImageResult{File: ref.Name, Mode: types.ModeBoxes}
	logger := p.logger.WithField("file", ref.Name)

	var detection types.Detection
	if _, perr := response.Parse(raw, &detection); perr != nil {
		logger.WithField("error", perr.Error).Warn("could not parse model answer")
		result.ParseError = perr
		return result, nil
	}
	result.Detection = &detection

	for i, loc := range detection.Locations {
		box, ok := processing.NormalizeBox(loc, payload.Scale)
		if !ok {
			msg := fmt.Sprintf("location %d is missing coordinates", i)
			logger.Warn(msg)
			result.Warnings = append(result.Warnings, msg)
			continue
		}
		result.Boxes = append(result.Boxes, box)
	}

	if !p.opts.Annotate.Enabled {
		return result, nil
	}

	annotated, err := p.annotate(ref, result.Boxes)
	if err != nil {
		return nil, err
	}
	result.Annotated = annotated

	return result, nil
}

// annotate writes an outlined copy of the source image and, optionally, one crop per box
func (p *Pipeline) annotate(ref types.ImageRef, boxes []types.Box) (string, error) {
	img, err := p.processor.LoadImage(ref.Path)
	if err != nil {
		return "", fmt.Errorf("failed to load image %s: %w", ref.Name, err)
	}

	outDir := utils.ResolvePath(filepath.Dir(ref.Path), p.opts.Annotate.Dir)
	if err := utils.EnsureDir(outDir); err != nil {
		return "", fmt.Errorf("failed to create annotation directory: %w", err)
	}

	outPath := utils.GenerateOutputFilename(ref.Path, outDir, p.opts.Annotate.Prefix, "", p.opts.Annotate.Format)
	if err := p.processor.SaveImage(p.processor.DrawBoxes(img, boxes), outPath, p.opts.Annotate.Format); err != nil {
		return "", fmt.Errorf("failed to save annotated image %s: %w", outPath, err)
	}

	if p.opts.Annotate.Crops {
		cropDir := filepath.Join(outDir, "crops")
		if err := utils.EnsureDir(cropDir); err != nil {
			return "", fmt.Errorf("failed to create crop directory: %w", err)
		}
		for i, box := range boxes {
			cropped, err := p.processor.CropImageToBox(img, box)
			if err != nil {
				p.logger.WithFields(log.Fields{"file": ref.Name, "box": i}).Warn("skipping empty crop")
				continue
			}
			cropPath := utils.GenerateOutputFilename(ref.Path, cropDir, "", fmt.Sprintf("_%d", i+1), p.opts.Annotate.Format)
			if err := p.processor.SaveImage(cropped, cropPath, p.opts.Annotate.Format); err != nil {
				return "", fmt.Errorf("failed to save crop %s: %w", cropPath, err)
			}
		}
	}

	return outPath, nil
}
