package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// severityOrder lists severities from worst to best for rendering.
var severityOrder = []types.Severity{
	types.SeverityCritical, types.SeverityHigh, types.SeverityMedium,
	types.SeverityLow, types.SeverityNone,
}

// WriteMarkdown renders the report as a reviewer-friendly Markdown
// document.
func WriteMarkdown(rep *Report, path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Review report: %s\n\n", filepath.Base(rep.Video))
	fmt.Fprintf(&b, "Generated %s · language %s · video length %s\n\n",
		rep.GeneratedAt.Format("2006-01-02 15:04 MST"), rep.Language,
		types.FormatTimestamp(rep.DurationSeconds))
	if rep.DryRun {
		b.WriteString("**Dry run**: detection stages only, no model analysis.\n\n")
	}

	fmt.Fprintf(&b, "## Overview\n\n")
	fmt.Fprintf(&b, "- Findings: %d (%d issues)\n", rep.Counts.Total, rep.Counts.Issues)
	fmt.Fprintf(&b, "- Detections: %d, screenshots: %d\n", rep.Counts.Detections, rep.Counts.Screenshots)
	for _, sev := range severityOrder {
		if n := rep.Counts.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", sev, n)
		}
	}
	b.WriteString("\n")

	if rep.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "## Executive summary\n\n%s\n\n", rep.ExecutiveSummary)
	}
	if rep.VisualSummary != "" {
		fmt.Fprintf(&b, "## Visual issues\n\n%s\n\n", rep.VisualSummary)
	}

	if len(rep.Findings) > 0 {
		b.WriteString("## Findings\n\n")
		for i, f := range rep.Findings {
			fmt.Fprintf(&b, "### %d. [%s] %s\n\n", i+1, types.FormatTimestamp(f.Timestamp), f.Summary)
			fmt.Fprintf(&b, "Category **%s** · severity **%s** · sentiment %s\n\n", f.Category, f.Severity, f.Sentiment)
			if f.ScreenshotPath != "" {
				fmt.Fprintf(&b, "![screenshot](%s)\n\n", filepath.ToSlash(relOrSelf(path, f.ScreenshotPath)))
			}
			if f.SuggestedFix != "" {
				fmt.Fprintf(&b, "Suggested fix: %s\n\n", f.SuggestedFix)
			}
			if len(f.ActionItems) > 0 {
				b.WriteString("Action items:\n")
				for _, a := range f.ActionItems {
					fmt.Fprintf(&b, "- %s\n", a)
				}
				b.WriteString("\n")
			}
			if len(f.AffectedComponents) > 0 {
				fmt.Fprintf(&b, "Affected: %s\n\n", strings.Join(f.AffectedComponents, ", "))
			}
			writeVisualNotes(&b, f)
			if len(f.MergedFromIDs) > 0 {
				refs := make([]string, 0, len(f.MergedFromIDs))
				for _, ref := range f.MergedFromIDs {
					refs = append(refs, types.FormatTimestamp(ref.Timestamp))
				}
				fmt.Fprintf(&b, "Merged with findings at: %s\n\n", strings.Join(refs, ", "))
			}
		}
	}

	if len(rep.Errors) > 0 {
		b.WriteString("## Pipeline errors\n\n")
		for _, e := range rep.Errors {
			fmt.Fprintf(&b, "- `%s`: %s\n", e.Stage, e.Message)
		}
		b.WriteString("\n")
	}

	return write(path, []byte(b.String()))
}

func writeVisualNotes(b *strings.Builder, f *types.UnifiedFinding) {
	notes := []struct{ label, text string }{
		{"UI elements", f.UIElements},
		{"Visual issues", f.IssuesDetected},
		{"Accessibility", f.AccessibilityNotes},
		{"Design", f.DesignFeedback},
		{"Technical", f.TechnicalObservations},
	}
	for _, n := range notes {
		if strings.TrimSpace(n.text) != "" {
			fmt.Fprintf(b, "%s: %s\n\n", n.label, n.text)
		}
	}
}

// relOrSelf makes target relative to the report's directory when
// possible, so screenshot links survive moving the output directory.
func relOrSelf(reportPath, target string) string {
	rel, err := filepath.Rel(filepath.Dir(reportPath), target)
	if err != nil {
		return target
	}
	return rel
}
