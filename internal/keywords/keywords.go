// Package keywords implements the regex keyword detector over transcript
// segments.
//
// The detector is configured by a mapping from category to patterns for the bug,
// change and ui categories. A default pattern set is embedded into the
// binary; a YAML file of the same shape can override it. Each segment is
// scanned case-insensitively; when a segment matches several categories the
// priority is bug > change > ui. Adjacent detections of the same category
// within a configurable gap are merged into a single detection spanning the
// union time range.
package keywords

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

//go:embed default_keywords.yaml
var defaultPatternsYAML []byte

// DefaultMaxGap is the maximum gap in seconds between two same-category
// detections that still merge into one.
const DefaultMaxGap = 5.0

// DefaultYAML returns a copy of the embedded default pattern file, suitable
// for writing a starter keywords file the user can edit.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultPatternsYAML))
	copy(out, defaultPatternsYAML)
	return out
}

// categoryPriority orders categories for multi-category matches. Lower index
// wins.
var categoryPriority = []types.Category{types.CategoryBug, types.CategoryChange, types.CategoryUI}

// patternFile is the YAML schema of a keyword pattern file.
type patternFile map[string][]string

// Detector scans transcript segments against compiled per-category patterns.
// It is read-only after construction and safe for concurrent use.
type Detector struct {
	patterns map[types.Category][]*regexp.Regexp
	// ContextWindow is the number of neighbouring segments on each side whose
	// text is concatenated into Detection.Context. Default 1.
	ContextWindow int
}

// NewDefault returns a Detector built from the embedded default pattern set.
func NewDefault() (*Detector, error) {
	return newFromYAML(defaultPatternsYAML)
}

// NewFromFile returns a Detector built from the YAML pattern file at path.
func NewFromFile(path string) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: read %q: %w", path, err)
	}
	d, err := newFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("keywords: %q: %w", path, err)
	}
	return d, nil
}

func newFromYAML(data []byte) (*Detector, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("keywords: parse patterns: %w", err)
	}

	d := &Detector{
		patterns:      make(map[types.Category][]*regexp.Regexp),
		ContextWindow: 1,
	}
	for cat, pats := range pf {
		category := types.Category(cat)
		if !category.IsValid() {
			return nil, fmt.Errorf("keywords: unknown category %q", cat)
		}
		for _, p := range pats {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("keywords: compile pattern %q for %s: %w", p, cat, err)
			}
			d.patterns[category] = append(d.patterns[category], re)
		}
	}
	return d, nil
}

// Scan classifies every segment and returns a detection per matching
// segment, in segment order. Detections are not yet merged; see [Merge].
func (d *Detector) Scan(segments []types.Segment) []types.Detection {
	var out []types.Detection
	for i, seg := range segments {
		cat, found := d.classify(seg.Text)
		if cat == "" {
			continue
		}
		out = append(out, types.Detection{
			Segment:       seg,
			Category:      cat,
			KeywordsFound: found,
			Context:       d.context(segments, i),
		})
	}
	return out
}

// classify returns the highest-priority matching category for text together
// with every keyword that matched, or ("" , nil) when nothing matches.
func (d *Detector) classify(text string) (types.Category, []string) {
	var (
		best  types.Category
		found []string
	)
	for _, cat := range categoryPriority {
		for _, re := range d.patterns[cat] {
			if m := re.FindString(text); m != "" {
				if best == "" {
					best = cat
				}
				found = append(found, strings.ToLower(m))
			}
		}
	}
	return best, dedupStrings(found)
}

// context concatenates the texts of the segments within ContextWindow of
// index i, including segment i itself.
func (d *Detector) context(segments []types.Segment, i int) string {
	lo := i - d.ContextWindow
	if lo < 0 {
		lo = 0
	}
	hi := i + d.ContextWindow
	if hi > len(segments)-1 {
		hi = len(segments) - 1
	}
	parts := make([]string, 0, hi-lo+1)
	for j := lo; j <= hi; j++ {
		parts = append(parts, strings.TrimSpace(segments[j].Text))
	}
	return strings.Join(parts, " ")
}

// Merge collapses consecutive same-category detections whose gap is at most
// maxGap seconds. The merged detection spans from the start of the first to
// the end of the last, carries the union of the keyword sets, and
// concatenates texts and contexts. Only detections adjacent in input order
// merge.
func Merge(dets []types.Detection, maxGap float64) []types.Detection {
	if len(dets) == 0 {
		return nil
	}

	out := []types.Detection{dets[0]}
	for _, d := range dets[1:] {
		last := &out[len(out)-1]
		if d.Category == last.Category && d.Segment.Start-last.Segment.End <= maxGap {
			last.Segment.End = d.Segment.End
			last.Segment.Text = strings.TrimSpace(last.Segment.Text + " " + strings.TrimSpace(d.Segment.Text))
			last.Context = strings.TrimSpace(last.Context + " " + d.Context)
			last.KeywordsFound = dedupStrings(append(last.KeywordsFound, d.KeywordsFound...))
			continue
		}
		out = append(out, d)
	}
	return out
}

// dedupStrings removes duplicates preserving first-seen order.
func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
