package types

import (
	"encoding/json"
	"testing"
)

func TestBoxesPayloadUsesEmptyArrays(t *testing.T) {
	tests := []struct {
		name   string
		result *ImageResult
	}{
		{"null locations", &ImageResult{File: "a.png", Mode: ModeBoxes, Detection: &Detection{Found: false}}},
		{"empty locations", &ImageResult{File: "b.png", Mode: ModeBoxes, Detection: &Detection{Found: true, Locations: []Location{}}}},
		{"incomplete only", &ImageResult{File: "c.png", Mode: ModeBoxes, Detection: &Detection{Found: true, Locations: []Location{{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.result.Payload())
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if _, ok := got["boxes"].([]any); !ok {
				t.Errorf("boxes = %#v, want an array in %s", got["boxes"], data)
			}
			if _, ok := got["locations"].([]any); !ok {
				t.Errorf("locations = %#v, want an array in %s", got["locations"], data)
			}
		})
	}
}

func TestPayloadParseErrorWins(t *testing.T) {
	r := &ImageResult{File: "a.png", Mode: ModeBoxes, ParseError: &ParseError{Error: "JSON decode error: x", Raw: "x"}}
	if _, ok := r.Payload().(*ParseError); !ok {
		t.Errorf("payload = %#v, want the parse error", r.Payload())
	}
}

func TestSummaryTallies(t *testing.T) {
	s := &Summary{}
	if s.Accuracy() != 0 || s.DetectionRate() != 0 {
		t.Error("empty summary should report zero rates")
	}

	s.Add(&ImageResult{Mode: ModeBoxes, Detection: &Detection{Found: true}})
	s.Add(&ImageResult{Mode: ModeBoxes, Detection: &Detection{}})
	s.Add(&ImageResult{Mode: ModeBoxes, ParseError: &ParseError{}})

	if s.Total() != 3 || s.Found != 1 || s.NotFound() != 2 || s.ParseErrors != 1 {
		t.Errorf("tallies = total %d found %d not found %d parse errors %d", s.Total(), s.Found, s.NotFound(), s.ParseErrors)
	}
}
