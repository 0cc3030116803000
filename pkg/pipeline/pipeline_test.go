package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/menta2k/shelf-vision/pkg/groundtruth"
	"github.com/menta2k/shelf-vision/pkg/processing"
	"github.com/menta2k/shelf-vision/pkg/prompts"
	"github.com/menta2k/shelf-vision/pkg/report"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// fakeClient answers calls in order from a fixed script
type fakeClient struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	prompts   []string
	payloads  []types.ImagePayload
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt string, img types.ImagePayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.payloads = append(f.payloads, img)

	if err := f.errs[call]; err != nil {
		return "", err
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	return "", nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func newTestPipeline(t *testing.T, c *fakeClient, opts Options, extra ...Option) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	options := append([]Option{WithPrinter(report.NewPrinter(&out))}, extra...)
	p, err := New(c, opts, options...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, &out
}

func TestRunBoxesAnnotatesCopy(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "shelf.png", 100, 100)

	c := &fakeClient{responses: []string{
		"```json\n{\"found\": true, \"locations\": [{\"x1\":50,\"y1\":10,\"x2\":5,\"y2\":80}]}\n```",
	}}
	p, out := newTestPipeline(t, c, Options{
		Mode:     types.ModeBoxes,
		Dir:      dir,
		Annotate: AnnotateOptions{Enabled: true, Prefix: "annotated_"},
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total() != 1 || summary.Found != 1 || summary.NotFound() != 0 {
		t.Fatalf("summary = total %d found %d", summary.Total(), summary.Found)
	}

	result := summary.Results[0]
	if !result.Detection.Found || result.Count() != 1 {
		t.Errorf("detection = %+v", result.Detection)
	}
	want := types.Box{X0: 5, Y0: 10, X1: 50, Y1: 80}
	if len(result.Boxes) != 1 || result.Boxes[0] != want {
		t.Fatalf("boxes = %v, want [%v]", result.Boxes, want)
	}

	annotated := filepath.Join(dir, "annotated", "annotated_shelf.png")
	if result.Annotated != annotated {
		t.Errorf("annotated = %q, want %q", result.Annotated, annotated)
	}

	got := decodePNG(t, annotated)
	if r, g, b, _ := got.At(5, 10).RGBA(); r>>8 != 255 || g != 0 || b != 0 {
		t.Errorf("corner pixel = (%d,%d,%d), want red", r>>8, g>>8, b>>8)
	}

	orig := decodePNG(t, src)
	if r, g, b, _ := orig.At(5, 10).RGBA(); r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("source image was modified")
	}

	if c.prompts[0] != prompts.Default(types.ModeBoxes) {
		t.Errorf("default boxes prompt was not used")
	}
	if !strings.Contains(out.String(), "偵測率: 100.0%") {
		t.Errorf("summary output missing detection rate:\n%s", out.String())
	}
}

func TestRunBoxesIncompleteLocation(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 40, 40)

	c := &fakeClient{responses: []string{
		`{"found": true, "locations": [{"x1":1,"y1":2,"x2":30}, {"x1":30,"y1":30,"x2":2,"y2":3}]}`,
	}}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeBoxes, Dir: dir})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	result := summary.Results[0]
	if result.Count() != 2 {
		t.Errorf("count = %d, want 2", result.Count())
	}
	if len(result.Boxes) != 1 || result.Boxes[0] != (types.Box{X0: 2, Y0: 3, X1: 30, Y1: 30}) {
		t.Errorf("boxes = %v", result.Boxes)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", result.Warnings)
	}
	if result.Annotated != "" {
		t.Errorf("annotation written while disabled: %s", result.Annotated)
	}
}

func TestRunBoxesHugeCoordinateStaysOrdered(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 100, 100)

	c := &fakeClient{responses: []string{
		`{"found": true, "locations": [{"x1":1e300,"y1":10,"x2":5,"y2":80}]}`,
	}}
	p, _ := newTestPipeline(t, c, Options{
		Mode:        types.ModeBoxes,
		Dir:         dir,
		Annotate:    AnnotateOptions{Enabled: true, Prefix: "annotated_"},
		ResultsFile: "r.json",
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := types.Box{X0: 5, Y0: 10, X1: math.MaxInt32, Y1: 80}
	if got := summary.Results[0].Boxes; len(got) != 1 || got[0] != want {
		t.Errorf("boxes = %v, want [%v]", got, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, "r.json"))
	if err != nil {
		t.Fatalf("results file: %v", err)
	}
	if !strings.Contains(string(data), `"x1": 2147483647`) {
		t.Errorf("results file should carry the clamped corner:\n%s", data)
	}
}

func TestRunBoxesScalesCoordinates(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "big.png", 200, 100)

	c := &fakeClient{responses: []string{
		`{"found": true, "locations": [{"x1":10,"y1":5,"x2":20,"y2":15}]}`,
	}}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeBoxes, Dir: dir},
		WithProcessor(processingWithMaxDim(100)))

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if c.payloads[0].Scale != 2 {
		t.Fatalf("payload scale = %v, want 2", c.payloads[0].Scale)
	}
	want := types.Box{X0: 20, Y0: 10, X1: 40, Y1: 30}
	if got := summary.Results[0].Boxes; len(got) != 1 || got[0] != want {
		t.Errorf("boxes = %v, want [%v]", got, want)
	}
}

func TestRunProductsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, dir, name, 8, 8)
	}

	c := &fakeClient{responses: []string{
		"```json\n[{\"name\": \"鮮乳\", \"count\": 2}]\n```",
		"sorry, I cannot see any products",
		`{"products": []}`,
	}}
	p, out := newTestPipeline(t, c, Options{
		Mode:        types.ModeProducts,
		Dir:         dir,
		ResultsFile: "detection_results.json",
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total() != 3 {
		t.Fatalf("processed = %d, want 3", summary.Total())
	}
	if summary.ParseErrors != 1 {
		t.Errorf("parse errors = %d, want 1", summary.ParseErrors)
	}
	if perr := summary.Results[1].ParseError; perr == nil || perr.Raw != "sorry, I cannot see any products" {
		t.Errorf("parse error = %+v", perr)
	}

	want := filepath.Join(dir, "detection_results.json")
	if summary.OutputPath != want {
		t.Errorf("output path = %q, want %q", summary.OutputPath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("results file: %v", err)
	}
	for _, fragment := range []string{`"鮮乳"`, `"JSON decode error: `, `"b.png": {`} {
		if !strings.Contains(string(data), fragment) {
			t.Errorf("results file missing %s:\n%s", fragment, data)
		}
	}
	if !strings.Contains(out.String(), want) {
		t.Errorf("output path not printed:\n%s", out.String())
	}
}

func TestRunSampleLargerThanPopulation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 7; i++ {
		writePNG(t, dir, fmt.Sprintf("img%d.png", i), 4, 4)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &fakeClient{}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeLabel, Dir: dir, SampleSize: 20, Seed: 7})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total() != 7 || c.calls() != 7 {
		t.Errorf("processed %d with %d calls, want 7", summary.Total(), c.calls())
	}

	seen := map[string]bool{}
	for _, r := range summary.Results {
		if seen[r.File] {
			t.Errorf("%s processed twice", r.File)
		}
		seen[r.File] = true
	}
}

func TestRunAccuracy(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, dir, name, 4, 4)
	}
	for category, name := range map[string]string{"缺品": "a.png", "缺價卡": "b.png"} {
		if err := os.MkdirAll(filepath.Join(root, category), 0755); err != nil {
			t.Fatal(err)
		}
		writePNG(t, filepath.Join(root, category), name, 2, 2)
	}

	c := &fakeClient{responses: []string{" 缺品\n", "缺品", "Unknown"}}
	p, out := newTestPipeline(t, c, Options{Mode: types.ModeAccuracy, Dir: dir},
		WithLabeler(groundtruth.New(root, nil)))

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total() != 3 || summary.Correct != 2 {
		t.Errorf("total %d correct %d, want 3 and 2", summary.Total(), summary.Correct)
	}
	if got := summary.Results[1].GroundTruth; got != "缺價卡" {
		t.Errorf("ground truth = %q, want 缺價卡", got)
	}
	if !strings.Contains(out.String(), "準確率：66.67%") {
		t.Errorf("accuracy line missing:\n%s", out.String())
	}
}

func TestRunAccuracyAmbiguousNeverCorrect(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	writePNG(t, dir, "dup.png", 4, 4)
	for _, category := range []string{"缺品", "缺串條"} {
		if err := os.MkdirAll(filepath.Join(root, category), 0755); err != nil {
			t.Fatal(err)
		}
		writePNG(t, filepath.Join(root, category), "dup.png", 2, 2)
	}

	c := &fakeClient{responses: []string{"缺品"}}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeAccuracy, Dir: dir},
		WithLabeler(groundtruth.New(root, nil)))

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	result := summary.Results[0]
	if result.Correct || summary.Correct != 0 {
		t.Errorf("ambiguous image counted as correct")
	}
	if result.GroundTruth != "缺品" {
		t.Errorf("ground truth = %q, want first match", result.GroundTruth)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "缺串條") {
		t.Errorf("warnings = %v", result.Warnings)
	}
	if summary.Total() != 1 {
		t.Errorf("total = %d, want 1", summary.Total())
	}
}

func TestRunPromptStripsFences(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 4, 4)

	c := &fakeClient{responses: []string{"```text\n請找出貨架上的乳製品\n```"}}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModePrompt, Dir: dir, Prompt: "describe"})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := summary.Results[0].Prompt; got != "請找出貨架上的乳製品" {
		t.Errorf("prompt = %q", got)
	}
	if c.prompts[0] != "describe" {
		t.Errorf("configured prompt not sent: %q", c.prompts[0])
	}
}

func TestRunTransportErrorAborts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, dir, name, 4, 4)
	}

	boom := errors.New("401 unauthorized")
	c := &fakeClient{responses: []string{"ok"}, errs: map[int]error{1: boom}}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeLabel, Dir: dir})

	summary, err := p.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, boom)
	}
	if summary.Total() != 1 {
		t.Errorf("results before failure = %d, want 1", summary.Total())
	}
	if c.calls() != 2 {
		t.Errorf("calls = %d, want 2", c.calls())
	}
}

func TestRunMissingDirectory(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeClient{}, Options{Mode: types.ModeLabel, Dir: filepath.Join(t.TempDir(), "missing")})
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 4, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeClient{}
	p, _ := newTestPipeline(t, c, Options{Mode: types.ModeLabel, Dir: dir})
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if c.calls() != 0 {
		t.Errorf("model called after cancellation")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Options{Mode: types.ModeLabel}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(&fakeClient{}, Options{Mode: "unknown"}); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := New(&fakeClient{}, Options{Mode: types.ModeAccuracy}); err == nil {
		t.Error("expected error for accuracy mode without labeler")
	}
}

func TestSample(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e"}
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name string
		n    int
		want int
	}{
		{"all when zero", 0, 5},
		{"all when negative", -1, 5},
		{"subset", 3, 3},
		{"capped", 20, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sample(files, tt.n, rng)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			seen := map[string]bool{}
			for _, f := range got {
				if seen[f] {
					t.Errorf("duplicate %s", f)
				}
				seen[f] = true
			}
		})
	}

	if got := Sample(files, 0, rng); strings.Join(got, "") != "abcde" {
		t.Errorf("n<=0 should keep order, got %v", got)
	}
	if got := Sample(nil, 3, rng); len(got) != 0 {
		t.Errorf("empty population gave %v", got)
	}
}

func TestSampleSeedIsReproducible(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	first := Sample(files, 4, rand.New(rand.NewSource(42)))
	second := Sample(files, 4, rand.New(rand.NewSource(42)))
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("same seed gave %v and %v", first, second)
	}
}

func processingWithMaxDim(maxDim int) *processing.Processor {
	opts := processing.DefaultOptions()
	opts.MaxDim = maxDim
	return processing.NewProcessor(opts)
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}
