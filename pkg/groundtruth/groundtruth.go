// Package groundtruth derives the expected label of an image from a folder layout
// where every category is a directory holding the images that belong to it.
package groundtruth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Unknown is reported when no category folder contains the image
const Unknown = "Unknown"

// DefaultCategories is the lookup order of the shelf defect folders
var DefaultCategories = []string{"缺品", "缺價卡", "品項錯誤", "缺串條"}

// AmbiguousError is returned when an image name exists in more than one category
type AmbiguousError struct {
	File    string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous ground truth for %s: found in %s", e.File, strings.Join(e.Matches, ", "))
}

// Labeler resolves ground-truth labels below a root directory
type Labeler struct {
	root       string
	categories []string
	unknown    string
}

// New creates a Labeler. Empty categories fall back to DefaultCategories.
func New(root string, categories []string) *Labeler {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &Labeler{
		root:       root,
		categories: append([]string(nil), categories...),
		unknown:    Unknown,
	}
}

// SetUnknown overrides the label used when no folder matches
func (l *Labeler) SetUnknown(label string) {
	if label != "" {
		l.unknown = label
	}
}

// Categories returns the lookup order
func (l *Labeler) Categories() []string {
	return append([]string(nil), l.categories...)
}

// Lookup returns the first category, in lookup order, whose folder contains a regular
// file called filename. When several categories match, the first one is still
// returned together with an *AmbiguousError.
func (l *Labeler) Lookup(filename string) (string, error) {
	name := filepath.Base(filename)

	var matches []string
	for _, category := range l.categories {
		info, err := os.Stat(filepath.Join(l.root, category, name))
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, category)
	}

	switch len(matches) {
	case 0:
		return l.unknown, nil
	case 1:
		return matches[0], nil
	default:
		return matches[0], &AmbiguousError{File: name, Matches: matches}
	}
}
