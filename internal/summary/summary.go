// Package summary produces the executive and visual-issue summaries
// from the deduplicated findings. Summary failures degrade the report
// but never abort the run.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/prompts"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// Result carries both summaries and the last response id for chaining.
// Either summary may be empty when its call failed; the corresponding
// error sits in Errors.
type Result struct {
	Executive  string
	Visual     string
	ResponseID string
	Errors     []types.PipelineError
}

// Generate runs both summary calls sequentially, chaining prevID into
// the first and its response id into the second.
func Generate(ctx context.Context, client *llm.Client, findings []*types.UnifiedFinding, language, prevID string) *Result {
	res := &Result{ResponseID: prevID}
	digest := renderFindings(findings)

	exec, err := complete(ctx, client, prompts.Get(prompts.ExecutiveSummary, language, false), digest, res.ResponseID)
	if err != nil {
		slog.Warn("executive summary failed", "error", err)
		res.Errors = append(res.Errors, types.PipelineError{Stage: "summary", Message: fmt.Sprintf("executive summary: %v", err)})
	} else {
		res.Executive = exec.text
		if exec.responseID != "" {
			res.ResponseID = exec.responseID
		}
	}

	visual, err := complete(ctx, client, visualInstruction(language), renderVisual(findings), res.ResponseID)
	if err != nil {
		slog.Warn("visual summary failed", "error", err)
		res.Errors = append(res.Errors, types.PipelineError{Stage: "summary", Message: fmt.Sprintf("visual summary: %v", err)})
	} else {
		res.Visual = visual.text
		if visual.responseID != "" {
			res.ResponseID = visual.responseID
		}
	}

	return res
}

type completion struct {
	text       string
	responseID string
}

func complete(ctx context.Context, client *llm.Client, system, text, prevID string) (*completion, error) {
	if strings.TrimSpace(text) == "" {
		return &completion{}, nil
	}
	res, err := client.Complete(ctx, llm.Request{
		System:             system,
		Text:               text,
		PreviousResponseID: prevID,
	})
	if err != nil {
		return nil, err
	}
	return &completion{text: strings.TrimSpace(res.Text), responseID: res.ResponseID}, nil
}

// renderFindings lays the findings out one per line for the model.
func renderFindings(findings []*types.UnifiedFinding) string {
	var b strings.Builder
	for _, f := range findings {
		if f == nil {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s/%s: %s",
			types.FormatTimestamp(f.Timestamp), f.Category, f.Severity, f.Summary)
		if f.SuggestedFix != "" {
			fmt.Fprintf(&b, " (fix: %s)", f.SuggestedFix)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderVisual keeps only findings that have visual observations.
func renderVisual(findings []*types.UnifiedFinding) string {
	var b strings.Builder
	for _, f := range findings {
		if f == nil {
			continue
		}
		visual := strings.TrimSpace(strings.Join(nonEmpty(
			f.IssuesDetected, f.AccessibilityNotes, f.DesignFeedback, f.TechnicalObservations,
		), "; "))
		if visual == "" {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", types.FormatTimestamp(f.Timestamp), f.Category, visual)
	}
	return b.String()
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// visualInstruction asks for a short digest of the visual problems; it
// reuses the executive summary register in the selected language.
func visualInstruction(language string) string {
	if strings.HasPrefix(strings.ToLower(language), "pl") {
		return "Otrzymujesz listę wizualnych obserwacji ze zrzutów ekranu recenzji aplikacji. Napisz krótkie podsumowanie problemów wizualnych i dostępnościowych dla zespołu deweloperskiego. Zwykły tekst, bez JSON."
	}
	return "You receive the list of visual observations from the screenshots of an application review. Write a short digest of the visual and accessibility problems for the development team. Plain text, no JSON."
}
