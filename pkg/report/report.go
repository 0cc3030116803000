// Package report prints per-image results and batch summaries and writes the results file.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/menta2k/shelf-vision/pkg/types"
)

// resultsJSON keeps non-ASCII text and HTML characters as-is and sorts keys
var resultsJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Printer writes human-readable lines for each processed image
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w, or stdout when w is nil
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

// Start announces an image before the model is called
func (p *Printer) Start(mode types.Mode, ref types.ImageRef) {
	if mode == types.ModeLabel {
		fmt.Fprintf(p.w, "\n🔍 分析圖片：%s\n", ref.Name)
	}
}

// Result prints the outcome of one image
func (p *Printer) Result(r *types.ImageResult) {
	if r.ParseError != nil {
		fmt.Fprintf(p.w, "[ERROR] %s 無法解析 JSON: %s\n%s\n\n", r.File, r.ParseError.Error, r.ParseError.Raw)
		return
	}

	switch r.Mode {
	case types.ModeLabel:
		fmt.Fprintf(p.w, "🧾 結果： %s\n", r.Label)
	case types.ModeAccuracy:
		fmt.Fprintf(p.w, "檔名: %s\n", r.File)
		fmt.Fprintf(p.w, "  ➜ 標準答案: %s\n", r.GroundTruth)
		fmt.Fprintf(p.w, "  ➜ 系統預測: %s\n", r.Label)
		fmt.Fprintf(p.w, "  ➜ 正確: %t\n\n", r.Correct)
	case types.ModeBoxes:
		fmt.Fprintf(p.w, "檔名: %s\n", r.File)
		fmt.Fprintf(p.w, "  ➜ 偵測到 (found): %t\n", r.Detection.Found)
		fmt.Fprintf(p.w, "  ➜ 數量 (count): %d\n", r.Count())
		fmt.Fprintf(p.w, "  ➜ 位置 (locations): %s\n", formatBoxes(r.Boxes))
		if r.Annotated != "" {
			fmt.Fprintf(p.w, "  ➜ 已存檔：%s\n", r.Annotated)
		}
		fmt.Fprintln(p.w)
	case types.ModeProducts:
		fmt.Fprintf(p.w, "檔名: %s ✓\n", r.File)
	case types.ModePrompt:
		fmt.Fprintf(p.w, "檔名: %s\n%s\n\n", r.File, r.Prompt)
	}
}

// Summary prints the end-of-batch statistics
func (p *Printer) Summary(s *types.Summary) {
	switch s.Mode {
	case types.ModeAccuracy:
		fmt.Fprintf(p.w, "總共測試：%d 張\n", s.Total())
		fmt.Fprintf(p.w, "正確數量：%d 張\n", s.Correct)
		fmt.Fprintf(p.w, "準確率：%.2f%%\n", s.Accuracy()*100)
	case types.ModeBoxes:
		fmt.Fprintln(p.w, "==== 偵測統計 ====")
		fmt.Fprintf(p.w, "  總共處理: %d 張\n", s.Total())
		fmt.Fprintf(p.w, "  成功偵測到: %d 張\n", s.Found)
		fmt.Fprintf(p.w, "  未偵測到: %d 張\n", s.NotFound())
		fmt.Fprintf(p.w, "  偵測率: %.1f%%\n", s.DetectionRate()*100)
	default:
		fmt.Fprintf(p.w, "總共處理: %d 張\n", s.Total())
	}
	if s.ParseErrors > 0 {
		fmt.Fprintf(p.w, "JSON 解析失敗: %d 張\n", s.ParseErrors)
	}
	if s.OutputPath != "" {
		fmt.Fprintf(p.w, "所有檔案偵測結果已寫入：%s\n", s.OutputPath)
	}
}

func formatBoxes(boxes []types.Box) string {
	if len(boxes) == 0 {
		return "[]"
	}
	out := "["
	for i, b := range boxes {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("(%d,%d)-(%d,%d)", b.X0, b.Y0, b.X1, b.Y1)
	}
	return out + "]"
}

// Marshal renders the file name → result payload mapping with 2-space indentation
func Marshal(results []*types.ImageResult) ([]byte, error) {
	payload := make(map[string]any, len(results))
	for _, r := range results {
		payload[r.File] = r.Payload()
	}

	compact, err := resultsJSON.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// jsoniter loses the depth of values nested in interfaces when indenting
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteResults writes all results to path as one JSON object
func WriteResults(path string, results []*types.ImageResult) error {
	data, err := Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}

	return nil
}
