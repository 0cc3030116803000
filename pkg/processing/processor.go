package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/shelf-vision/internal/utils"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// Red is the default outline colour for detected products
var Red = color.NRGBA{255, 0, 0, 255}

// Options controls how images are sent to the model and annotated
type Options struct {
	// MaxDim downsizes the long side before sending; 0 sends the file untouched.
	MaxDim      int
	SendFormat  string
	SendQuality int
	Stroke      int
	Color       color.NRGBA
	Quality     int
	Lossless    bool
}

// DefaultOptions mirrors the behaviour of sending original files and drawing 3px red boxes
func DefaultOptions() Options {
	return Options{
		MaxDim:      0,
		SendFormat:  "jpg",
		SendQuality: 85,
		Stroke:      3,
		Color:       Red,
		Quality:     95,
	}
}

// Processor handles image processing operations
type Processor struct {
	opts Options
}

// NewProcessor creates a new image processor
func NewProcessor(opts Options) *Processor {
	if opts.Stroke <= 0 {
		opts.Stroke = 1
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = 85
	}
	if opts.Quality <= 0 {
		opts.Quality = 95
	}
	return &Processor{opts: opts}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// PrepareImageForModel reads the image file and returns the payload to send. When
// MaxDim is set and the image is larger, it is resized and re-encoded and the payload
// records how to scale coordinates back.
func (p *Processor) PrepareImageForModel(ref types.ImageRef) (types.ImagePayload, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return types.ImagePayload{}, fmt.Errorf("failed to read image %s: %w", ref.Name, err)
	}

	payload := types.ImagePayload{MIME: ref.MIME, Data: data, Scale: 1}
	if p.opts.MaxDim <= 0 {
		return payload, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return types.ImagePayload{}, fmt.Errorf("failed to decode image %s: %w", ref.Name, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.opts.MaxDim && h <= p.opts.MaxDim {
		return payload, nil
	}

	if w >= h {
		img = imaging.Resize(img, p.opts.MaxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, p.opts.MaxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch strings.ToLower(p.opts.SendFormat) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return types.ImagePayload{}, err
		}
		payload.MIME = "image/png"
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.opts.SendQuality}); err != nil {
			return types.ImagePayload{}, err
		}
		payload.MIME = "image/jpeg"
	}
	payload.Data = buf.Bytes()
	payload.Scale = float64(w) / float64(img.Bounds().Dx())

	return payload, nil
}

// NormalizeBox turns two opposite corners given in any order into a canonical box,
// scaled back to original pixels. It reports false when a coordinate is missing.
func NormalizeBox(loc types.Location, scale float64) (types.Box, bool) {
	if !loc.Complete() {
		return types.Box{}, false
	}
	if scale <= 0 {
		scale = 1
	}

	xs := []float64{*loc.X1, *loc.X2}
	ys := []float64{*loc.Y1, *loc.Y2}
	sort.Float64s(xs)
	sort.Float64s(ys)

	return types.Box{X0: px(xs[0], scale), Y0: px(ys[0], scale), X1: px(xs[1], scale), Y1: px(ys[1], scale)}, true
}

// px scales v and rounds it to a pixel, clamped to the int32 range so any JSON number converts safely
func px(v, scale float64) int {
	v *= scale
	switch {
	case math.IsNaN(v):
		return 0
	case v <= math.MinInt32:
		return math.MinInt32
	case v >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(v))
}

// DrawBoxes returns a copy of img with every box outlined. img is not modified.
func (p *Processor) DrawBoxes(img image.Image, boxes []types.Box) *image.NRGBA {
	nrgba := imaging.Clone(img)
	for _, box := range boxes {
		drawBox(nrgba, box, p.opts.Color, p.opts.Stroke)
	}
	return nrgba
}

// CropImageToBox crops an image to the specified pixel box
func (p *Processor) CropImageToBox(img image.Image, box types.Box) (image.Image, error) {
	bounds := img.Bounds()
	rect := image.Rect(box.X0, box.Y0, box.X1+1, box.Y1+1).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}
	return imaging.Crop(img, rect), nil
}

// SaveImage saves an image to a file. An empty format is taken from the path.
func (p *Processor) SaveImage(img image.Image, path, format string) error {
	if format == "" {
		format = utils.GetFileExtension(path)
	}
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: p.opts.Lossless, Quality: float32(p.opts.Quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(p.opts.Quality))
	}
}

// ParseColor parses #rrggbb or rrggbb into an opaque colour
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// drawBox outlines box with stroke pixels drawn inwards from its edges
func drawBox(img *image.NRGBA, box types.Box, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, box.Y0+s, box.X0, box.X1+1, c)
		drawHLine(img, box.Y1-s, box.X0, box.X1+1, c)
		drawVLine(img, box.X0+s, box.Y0, box.Y1+1, c)
		drawVLine(img, box.X1-s, box.Y0, box.Y1+1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
