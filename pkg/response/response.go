// Package response cleans up and decodes the text returned by vision models.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/menta2k/shelf-vision/pkg/types"
)

const fence = "```"

// StripFences removes a leading ``` fence (with optional language tag) and a trailing
// ``` fence. Text without fences is only trimmed. The result is a fixed point, so
// applying StripFences again changes nothing.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	for {
		next := stripOnce(cleaned)
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
}

func stripOnce(s string) string {
	if strings.HasPrefix(s, fence) {
		rest := s[len(fence):]
		rest = strings.TrimLeftFunc(rest, isTagRune)
		s = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSuffix(s, fence)
	}
	return strings.TrimSpace(s)
}

func isTagRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Decode parses text as a single JSON value into v. Numbers decoded into interface
// values keep their literal form.
func Decode(text string, v any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid data after top-level value")
	}
	return nil
}

// Parse strips fences and decodes the remainder into v. A decode failure is returned as
// a ParseError value carrying the cleaned text, never as an error.
func Parse(raw string, v any) (string, *types.ParseError) {
	cleaned := StripFences(raw)
	if err := Decode(cleaned, v); err != nil {
		return cleaned, &types.ParseError{
			Error: fmt.Sprintf("JSON decode error: %v", err),
			Raw:   cleaned,
		}
	}
	return cleaned, nil
}

// Label trims whitespace around a plain-text answer
func Label(raw string) string {
	return strings.TrimSpace(raw)
}
