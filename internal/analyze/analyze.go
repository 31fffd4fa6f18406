// Package analyze is the concurrent core of the pipeline: each
// detection and its frame go to the vision model through a bounded
// worker pool, with staggered starts and server-side context chained
// between calls via previous_response_id.
package analyze

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
	"github.com/VetCoders/ScreenScribe-sub000/internal/prompts"
	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

const (
	// DefaultWorkers bounds concurrent model calls.
	DefaultWorkers = 5
	// DefaultStagger spaces out task starts to avoid a thundering herd
	// against upstream rate limits.
	DefaultStagger = 500 * time.Millisecond
)

// Item is one unit of analysis work. FramePath may be empty, in which
// case the text-only prompt variant is used.
type Item struct {
	ID        int
	Detection types.Detection
	FramePath string
}

// Options tunes one analysis run. Zero values take the defaults above.
type Options struct {
	Workers        int
	Stagger        time.Duration
	Language       string
	SeedResponseID string

	// OnContent and OnReasoning stream deltas to the progress UI,
	// keyed by item index. Both may be nil. They are called from
	// worker goroutines.
	OnContent   func(index int, delta string)
	OnReasoning func(index int, delta string)

	// Metrics receives the in-flight task gauge. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Result is the outcome of one analysis run. Findings has one entry per
// input item in input order; a nil entry means that item failed and has
// a corresponding entry in Errors.
type Result struct {
	Findings       []*types.UnifiedFinding
	Errors         []types.PipelineError
	LastResponseID string
}

// Analyzer fans detections out to the vision model.
type Analyzer struct {
	client *llm.Client
}

// New builds an analyzer around the given vision model client.
func New(client *llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

// rawFinding mirrors the JSON object the unified analysis prompt
// requests from the model.
type rawFinding struct {
	IsIssue            bool     `json:"is_issue"`
	Category           string   `json:"category"`
	Sentiment          string   `json:"sentiment"`
	Severity           string   `json:"severity"`
	Summary            string   `json:"summary"`
	ActionItems        []string `json:"action_items"`
	AffectedComponents []string `json:"affected_components"`
	SuggestedFix       string   `json:"suggested_fix"`
	UIElements         string   `json:"ui_elements"`
	IssuesDetected     string   `json:"issues_detected"`
	AccessibilityNotes string   `json:"accessibility_notes"`
	DesignFeedback     string   `json:"design_feedback"`
	TechnicalObs       string   `json:"technical_observations"`
}

// Run analyzes all items and returns findings in input order.
// Completions arrive out of order, so results land in an indexed table.
// A cancelled context stops scheduling new tasks and aborts in-flight
// streams; items already finished keep their findings.
func (a *Analyzer) Run(ctx context.Context, items []Item, opts Options) *Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	stagger := opts.Stagger
	if stagger <= 0 {
		stagger = DefaultStagger
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	res := &Result{
		Findings:       make([]*types.UnifiedFinding, len(items)),
		LastResponseID: opts.SeedResponseID,
	}

	var (
		mu     sync.Mutex // guards prevID and res.Errors
		prevID = opts.SeedResponseID
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		// Absolute deadline: items past the first worker batch have
		// usually aged past their slot already and start immediately.
		notBefore := start.Add(time.Duration(i) * stagger)

		g.Go(func() error {
			if err := sleepUntil(gctx, notBefore); err != nil {
				return nil // cancelled before start, leave the slot nil
			}
			metrics.InFlightAnalyses.Add(gctx, 1)
			defer metrics.InFlightAnalyses.Add(gctx, -1)

			mu.Lock()
			chain := prevID
			mu.Unlock()

			finding, respID, err := a.analyzeOne(gctx, i, item, chain, opts)
			if err != nil {
				slog.Warn("analysis task failed", "index", i, "timestamp", item.Detection.Start(), "error", err)
				mu.Lock()
				res.Errors = append(res.Errors, types.PipelineError{
					Stage:   "unified_analysis",
					Message: fmt.Sprintf("detection %d at %s: %v", item.ID, types.FormatTimestamp(item.Detection.Start()), err),
				})
				mu.Unlock()
				return nil // siblings are unaffected
			}

			res.Findings[i] = finding
			if respID != "" {
				mu.Lock()
				prevID = respID
				res.LastResponseID = respID
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return res
}

// analyzeOne runs a single streaming call and turns the answer into a
// finding. An unparseable answer produces a sentinel finding rather
// than an error, so the raw content survives into the report.
func (a *Analyzer) analyzeOne(ctx context.Context, index int, item Item, prevID string, opts Options) (*types.UnifiedFinding, string, error) {
	req := llm.Request{
		System:             prompts.Get(prompts.UnifiedAnalysis, opts.Language, item.FramePath != ""),
		Text:               buildContext(item.Detection),
		PreviousResponseID: prevID,
	}

	if item.FramePath != "" {
		frame, err := os.ReadFile(item.FramePath)
		if err != nil {
			return nil, "", fmt.Errorf("read frame: %w", err)
		}
		req.ImageB64 = base64.StdEncoding.EncodeToString(frame)
	}

	cctx, cancel := context.WithTimeout(ctx, transport.TimeoutVLM)
	defer cancel()

	var onDelta func(string)
	if opts.OnContent != nil {
		onDelta = func(s string) { opts.OnContent(index, s) }
	}
	streamRes, err := a.client.Stream(cctx, req, onDelta)
	if err != nil {
		return nil, "", err
	}
	if opts.OnReasoning != nil && streamRes.Reasoning != "" {
		opts.OnReasoning(index, streamRes.Reasoning)
	}

	finding := a.toFinding(item, streamRes)
	return finding, streamRes.ResponseID, nil
}

func (a *Analyzer) toFinding(item Item, streamRes *llm.Result) *types.UnifiedFinding {
	f := &types.UnifiedFinding{
		DetectionID:    item.ID,
		Timestamp:      item.Detection.Start(),
		ScreenshotPath: item.FramePath,
		ResponseID:     streamRes.ResponseID,
	}

	var raw rawFinding
	if err := llm.RepairParse(streamRes.Text, &raw); err != nil {
		// Sentinel: keep the raw content visible instead of dropping
		// the task.
		f.IsIssue = true
		f.Severity = types.SeverityMedium
		f.Sentiment = types.SentimentProblem
		f.Category = item.Detection.Category
		f.Summary = strings.TrimSpace(streamRes.Text)
		f.SuggestedFix = fmt.Sprintf("analysis output could not be parsed: %v", err)
		return f
	}

	f.IsIssue = raw.IsIssue
	f.Category = types.Category(raw.Category)
	f.Sentiment = types.Sentiment(raw.Sentiment)
	f.Severity = types.Severity(raw.Severity)
	f.Summary = raw.Summary
	f.ActionItems = raw.ActionItems
	f.AffectedComponents = raw.AffectedComponents
	f.SuggestedFix = raw.SuggestedFix
	f.UIElements = raw.UIElements
	f.IssuesDetected = raw.IssuesDetected
	f.AccessibilityNotes = raw.AccessibilityNotes
	f.DesignFeedback = raw.DesignFeedback
	f.TechnicalObservations = raw.TechnicalObs
	f.Normalize()
	return f
}

// buildContext renders the detection for the user message: when it
// happened, what triggered it, and the surrounding transcript.
func buildContext(d types.Detection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Moment: %s (%.1fs - %.1fs)\n", types.FormatTimestamp(d.Start()), d.Start(), d.End())
	fmt.Fprintf(&b, "Trigger category: %s\n", d.Category)
	if len(d.KeywordsFound) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(d.KeywordsFound, ", "))
	}
	fmt.Fprintf(&b, "Reviewer said: %s\n", d.Segment.Text)
	if d.Context != "" && d.Context != d.Segment.Text {
		fmt.Fprintf(&b, "Surrounding transcript: %s\n", d.Context)
	}
	return b.String()
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
