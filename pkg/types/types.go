// Package types defines the shared value types used across all ScreenScribe
// packages.
//
// These types form the lingua franca between the media adapter, the STT and
// model clients, the detectors, the analyzer, and the pipeline coordinator.
// They are intentionally plain records: all times are seconds from the start
// of the video, cross-references use integer or string keys, and no type here
// holds behaviour beyond small validity helpers. Cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"fmt"
	"strings"
)

// Category classifies what kind of moment a detection or finding refers to.
type Category string

const (
	CategoryBug           Category = "bug"
	CategoryChange        Category = "change"
	CategoryUI            Category = "ui"
	CategoryPerformance   Category = "performance"
	CategoryAccessibility Category = "accessibility"
	CategoryOther         Category = "other"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryBug, CategoryChange, CategoryUI,
		CategoryPerformance, CategoryAccessibility, CategoryOther:
		return true
	}
	return false
}

// Severity grades how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// IsValid reports whether s is a recognised severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityNone:
		return true
	}
	return false
}

// Rank returns the ordering weight of s: critical=4 > high=3 > medium=2 >
// low=1 > none=0. Unknown severities rank as none.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Sentiment captures whether the reviewer's remark was a complaint, praise,
// or neither.
type Sentiment string

const (
	SentimentProblem  Sentiment = "problem"
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
)

// IsValid reports whether s is a recognised sentiment.
func (s Sentiment) IsValid() bool {
	return s == SentimentProblem || s == SentimentPositive || s == SentimentNeutral
}

// Segment is one utterance of the transcript as produced by STT. Segments are
// immutable once produced. Invariant: 0 ≤ Start < End. IDs are unique within
// one transcription but not globally.
type Segment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob,omitempty"`
}

// Transcription is the full STT result for one video. Segments are sorted by
// Start; concatenating the segment texts equals FullText up to whitespace.
// ResponseID is the server-assigned identifier of the transcription call,
// threaded into the next model call as previous_response_id.
type Transcription struct {
	Language   string    `json:"language"`
	FullText   string    `json:"full_text"`
	Segments   []Segment `json:"segments"`
	ResponseID string    `json:"response_id,omitempty"`
}

// MeanNoSpeechProb returns the average no_speech_prob across all segments,
// or 1.0 when there are no segments (nothing but non-speech).
func (t *Transcription) MeanNoSpeechProb() float64 {
	if len(t.Segments) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range t.Segments {
		sum += s.NoSpeechProb
	}
	return sum / float64(len(t.Segments))
}

// Detection is a transcript moment flagged by the keyword detector (or a POI
// converted to detection form). Context is the concatenation of a window of
// surrounding segment texts.
type Detection struct {
	Segment       Segment  `json:"segment"`
	Category      Category `json:"category"`
	KeywordsFound []string `json:"keywords_found,omitempty"`
	Context       string   `json:"context,omitempty"`
}

// Start returns the detection's start time in seconds.
func (d Detection) Start() float64 { return d.Segment.Start }

// End returns the detection's end time in seconds.
func (d Detection) End() float64 { return d.Segment.End }

// PointOfInterest is a ranked time range flagged by the semantic pre-filter.
type PointOfInterest struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
	SegmentIDs []int    `json:"segment_ids,omitempty"`
}

// Midpoint returns the centre of the POI's time range.
func (p PointOfInterest) Midpoint() float64 { return (p.Start + p.End) / 2 }

// Screenshot pairs a detection with the JPEG frame extracted for it. The
// frame is taken at min(start+0.5s, end).
type Screenshot struct {
	Detection Detection `json:"detection"`
	Path      string    `json:"path"`
}

// FindingRef identifies a finding absorbed during deduplication.
type FindingRef struct {
	DetectionID int     `json:"detection_id"`
	Timestamp   float64 `json:"timestamp"`
}

// UnifiedFinding is the output record of the unified VLM analysis: one moment
// in the video with both semantic and visual judgements.
//
// Invariants: if IsIssue is false then Severity is low or none and
// ActionItems is empty. When model output cannot be parsed the severity
// defaults to medium.
type UnifiedFinding struct {
	// identity
	DetectionID    int     `json:"detection_id"`
	Timestamp      float64 `json:"timestamp"`
	ScreenshotPath string  `json:"screenshot_path,omitempty"`

	// semantic
	Category           Category  `json:"category"`
	IsIssue            bool      `json:"is_issue"`
	Sentiment          Sentiment `json:"sentiment"`
	Severity           Severity  `json:"severity"`
	Summary            string    `json:"summary"`
	ActionItems        []string  `json:"action_items,omitempty"`
	AffectedComponents []string  `json:"affected_components,omitempty"`
	SuggestedFix       string    `json:"suggested_fix,omitempty"`

	// visual
	UIElements            string `json:"ui_elements,omitempty"`
	IssuesDetected        string `json:"issues_detected,omitempty"`
	AccessibilityNotes    string `json:"accessibility_notes,omitempty"`
	DesignFeedback        string `json:"design_feedback,omitempty"`
	TechnicalObservations string `json:"technical_observations,omitempty"`

	// provenance
	ResponseID    string       `json:"response_id,omitempty"`
	MergedFromIDs []FindingRef `json:"merged_from_ids,omitempty"`
}

// Normalize enforces the finding invariants in place: an unknown severity
// falls back to medium, and a non-issue may not carry action items or a
// severity above low.
func (f *UnifiedFinding) Normalize() {
	if !f.Severity.IsValid() {
		f.Severity = SeverityMedium
	}
	if !f.Sentiment.IsValid() {
		f.Sentiment = SentimentNeutral
	}
	if !f.Category.IsValid() {
		f.Category = CategoryOther
	}
	if !f.IsIssue {
		f.ActionItems = nil
		if f.Severity.Rank() > SeverityLow.Rank() {
			f.Severity = SeverityLow
		}
	}
}

// PipelineError records a non-fatal failure of one stage. Errors are appended
// rather than thrown; they end up in the final report.
type PipelineError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// FormatTimestamp renders seconds as MM-SS for screenshot file names.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d-%02d", total/60, total%60)
}

// NormalizeSummary lowercases a summary and collapses runs of whitespace,
// producing the key used by the exact deduplication stage.
func NormalizeSummary(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
