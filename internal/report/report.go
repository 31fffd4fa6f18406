// Package report assembles the final review report from the pipeline's
// outputs and renders it as JSON, Markdown and HTML. The report always
// renders, even when the run only produced an error list and a
// transcript.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// Run is everything the coordinator hands over for rendering.
type Run struct {
	VideoPath        string
	OutputDir        string
	Language         string
	DurationSeconds  float64
	Transcription    *types.Transcription
	Detections       []types.Detection
	Screenshots      []types.Screenshot
	Findings         []*types.UnifiedFinding
	ExecutiveSummary string
	VisualSummary    string
	Errors           []types.PipelineError
	DryRun           bool
}

// Counts summarizes the findings for the report header.
type Counts struct {
	Total       int                    `json:"total"`
	Issues      int                    `json:"issues"`
	ByCategory  map[types.Category]int `json:"by_category"`
	BySeverity  map[types.Severity]int `json:"by_severity"`
	Detections  int                    `json:"detections"`
	Screenshots int                    `json:"screenshots"`
}

// Report is the typed record contract consumed by the renderers.
type Report struct {
	Video            string                  `json:"video"`
	Language         string                  `json:"language"`
	DurationSeconds  float64                 `json:"duration_seconds"`
	GeneratedAt      time.Time               `json:"generated_at"`
	DryRun           bool                    `json:"dry_run,omitempty"`
	Counts           Counts                  `json:"counts"`
	ExecutiveSummary string                  `json:"executive_summary,omitempty"`
	VisualSummary    string                  `json:"visual_summary,omitempty"`
	Findings         []*types.UnifiedFinding `json:"findings"`
	Errors           []types.PipelineError   `json:"errors,omitempty"`
}

// Assemble builds the report record. Nil findings (failed analysis
// slots) are dropped; the counts reflect what the report actually
// lists.
func Assemble(run *Run) *Report {
	rep := &Report{
		Video:            run.VideoPath,
		Language:         run.Language,
		DurationSeconds:  run.DurationSeconds,
		GeneratedAt:      time.Now().UTC(),
		DryRun:           run.DryRun,
		ExecutiveSummary: run.ExecutiveSummary,
		VisualSummary:    run.VisualSummary,
		Errors:           run.Errors,
	}

	rep.Counts.ByCategory = map[types.Category]int{}
	rep.Counts.BySeverity = map[types.Severity]int{}
	rep.Counts.Detections = len(run.Detections)
	rep.Counts.Screenshots = len(run.Screenshots)

	for _, f := range run.Findings {
		if f == nil {
			continue
		}
		rep.Findings = append(rep.Findings, f)
		rep.Counts.Total++
		if f.IsIssue {
			rep.Counts.Issues++
		}
		rep.Counts.ByCategory[f.Category]++
		rep.Counts.BySeverity[f.Severity]++
	}
	sort.SliceStable(rep.Findings, func(i, j int) bool {
		return rep.Findings[i].Timestamp < rep.Findings[j].Timestamp
	})

	// Without analysis output the category counts come from the
	// detections themselves.
	if rep.Counts.Total == 0 {
		for _, d := range run.Detections {
			rep.Counts.ByCategory[d.Category]++
		}
	}
	return rep
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(rep *Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	return write(path, data)
}

func write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %q: %w", path, err)
	}
	return nil
}
