package types

import (
	"encoding/base64"
	"time"
)

// Mode selects the postprocessing strategy applied to every model response
type Mode string

const (
	ModeLabel    Mode = "label"
	ModeAccuracy Mode = "accuracy"
	ModeProducts Mode = "products"
	ModeBoxes    Mode = "boxes"
	ModePrompt   Mode = "prompt"
)

// Modes lists every supported mode in a stable order
var Modes = []Mode{ModeLabel, ModeAccuracy, ModeProducts, ModeBoxes, ModePrompt}

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// ImageRef points at one input image on disk
type ImageRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// ImagePayload is the image content actually sent to the model
type ImagePayload struct {
	MIME string
	Data []byte
	// Scale maps coordinates in the sent image back to the original (original/sent).
	Scale float64
}

// Base64 returns the standard base64 encoding of the payload
func (p ImagePayload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURI returns the payload as data:<mime>;base64,<payload>
func (p ImagePayload) DataURI() string {
	return "data:" + p.MIME + ";base64," + p.Base64()
}

// Location is one detection record as returned by the model. Any corner may be missing.
type Location struct {
	X1 *float64 `json:"x1,omitempty"`
	Y1 *float64 `json:"y1,omitempty"`
	X2 *float64 `json:"x2,omitempty"`
	Y2 *float64 `json:"y2,omitempty"`
}

// Complete reports whether all four coordinates are present
func (l Location) Complete() bool {
	return l.X1 != nil && l.Y1 != nil && l.X2 != nil && l.Y2 != nil
}

// Detection is the structured answer of the boxes mode
type Detection struct {
	Product   string     `json:"product,omitempty"`
	Found     bool       `json:"found"`
	Locations []Location `json:"locations"`
}

// Box is a pixel rectangle with X0<=X1 and Y0<=Y1
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// ParseError records a response that could not be decoded as JSON
type ParseError struct {
	Error string `json:"error"`
	Raw   string `json:"raw"`
}

// ImageResult is the outcome for a single image
type ImageResult struct {
	File        string      `json:"file"`
	Mode        Mode        `json:"mode"`
	Label       string      `json:"label,omitempty"`
	GroundTruth string      `json:"ground_truth,omitempty"`
	Correct     bool        `json:"correct"`
	Detection   *Detection  `json:"detection,omitempty"`
	Boxes       []Box       `json:"boxes,omitempty"`
	Products    any         `json:"products,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	Annotated   string      `json:"annotated,omitempty"`
	ParseError  *ParseError `json:"parse_error,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Count is the number of locations the model reported, complete or not
func (r *ImageResult) Count() int {
	if r.Detection == nil {
		return 0
	}
	return len(r.Detection.Locations)
}

// Payload is the value stored for this image in the results file
func (r *ImageResult) Payload() any {
	if r.ParseError != nil {
		return r.ParseError
	}
	switch r.Mode {
	case ModeProducts:
		return r.Products
	case ModeBoxes:
		found := false
		locations := []Location{}
		if r.Detection != nil {
			found = r.Detection.Found
			if r.Detection.Locations != nil {
				locations = r.Detection.Locations
			}
		}
		boxes := r.Boxes
		if boxes == nil {
			boxes = []Box{}
		}
		return map[string]any{
			"found":     found,
			"count":     r.Count(),
			"locations": locations,
			"boxes":     boxes,
			"annotated": r.Annotated,
		}
	case ModeAccuracy:
		return map[string]any{
			"predicted":    r.Label,
			"ground_truth": r.GroundTruth,
			"correct":      r.Correct,
		}
	case ModePrompt:
		return map[string]any{"prompt": r.Prompt}
	default:
		return map[string]any{"label": r.Label}
	}
}

// Summary aggregates a whole batch
type Summary struct {
	RunID       string         `json:"run_id"`
	Mode        Mode           `json:"mode"`
	Model       string         `json:"model"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Results     []*ImageResult `json:"results"`
	Correct     int            `json:"correct"`
	Found       int            `json:"found"`
	ParseErrors int            `json:"parse_errors"`
	OutputPath  string         `json:"output_path,omitempty"`
}

// Total is the number of processed images
func (s *Summary) Total() int {
	return len(s.Results)
}

// Accuracy is Correct/Total, 0 for an empty batch
func (s *Summary) Accuracy() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total())
}

// NotFound is the number of images where the product was not detected
func (s *Summary) NotFound() int {
	return s.Total() - s.Found
}

// DetectionRate is Found/Total, 0 for an empty batch
func (s *Summary) DetectionRate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Found) / float64(s.Total())
}

// Add appends a result and updates the tallies
func (s *Summary) Add(r *ImageResult) {
	s.Results = append(s.Results, r)
	if r.ParseError != nil {
		s.ParseErrors++
		return
	}
	if r.Correct {
		s.Correct++
	}
	if r.Detection != nil && r.Detection.Found {
		s.Found++
	}
}
