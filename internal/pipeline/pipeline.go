// Package pipeline runs the review stage sequence for one video:
// audio, transcription, detection, screenshots, unified_analysis, and
// report. Each completed stage is checkpointed so an interrupted run can
// resume, and component failures degrade the report instead of aborting it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VetCoders/ScreenScribe-sub000/internal/analyze"
	"github.com/VetCoders/ScreenScribe-sub000/internal/checkpoint"
	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/dedup"
	"github.com/VetCoders/ScreenScribe-sub000/internal/keywords"
	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/media"
	"github.com/VetCoders/ScreenScribe-sub000/internal/merge"
	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
	"github.com/VetCoders/ScreenScribe-sub000/internal/prefilter"
	"github.com/VetCoders/ScreenScribe-sub000/internal/preflight"
	"github.com/VetCoders/ScreenScribe-sub000/internal/report"
	"github.com/VetCoders/ScreenScribe-sub000/internal/stt"
	"github.com/VetCoders/ScreenScribe-sub000/internal/summary"
	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// Filter levels for the detection stage.
const (
	FilterKeywords = "keywords"
	FilterBase     = "base"
	FilterCombined = "combined"
)

// screenshotOffset shifts the frame grab past the start of a detection so
// the screen shows what the reviewer is reacting to.
const screenshotOffset = 0.5

// Options tunes one review run.
type Options struct {
	Language    string
	UseSemantic bool

	// UseVision enables the unified model analysis of the extracted
	// frames. When false the run stops after screenshots and the report
	// lists the detections themselves; no model analysis happens.
	UseVision bool

	FilterLevel        string
	CustomKeywordsPath string
	Resume             bool
	Force              bool
	SkipValidation     bool
	DryRun             bool
	EmbedVideo         bool

	// SeedResponseID chains this run onto a previous model conversation,
	// e.g. the last response of the preceding video in a batch.
	SeedResponseID string

	// OnEvent receives stage transitions. Status is one of "started",
	// "completed", "failed", or "skipped". May be nil.
	OnEvent func(stage, status, detail string)

	// OnContent streams analysis deltas keyed by item index. May be nil.
	OnContent func(index int, delta string)
}

// Outcome is the result of one run: the assembled report plus the last
// model response id, which a batch caller may seed into the next video.
type Outcome struct {
	Report         *report.Report
	LastResponseID string
}

// Coordinator wires the stage implementations together. Create one with
// [New] and reuse it across videos of a batch.
type Coordinator struct {
	cfg     *config.Config
	media   *media.Adapter
	stt     stt.Transcriber
	llm     *llm.Client
	vlm     *llm.Client
	metrics *observe.Metrics
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithTranscriber overrides the STT backend, e.g. with a local whisper.cpp
// model for --local runs.
func WithTranscriber(t stt.Transcriber) Option {
	return func(c *Coordinator) { c.stt = t }
}

// WithMedia overrides the media adapter.
func WithMedia(a *media.Adapter) Option {
	return func(c *Coordinator) { c.media = a }
}

// WithClients overrides the language and vision model clients.
func WithClients(language, vision *llm.Client) Option {
	return func(c *Coordinator) {
		c.llm = language
		c.vlm = vision
	}
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New builds a [Coordinator] from the resolved configuration.
func New(cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:   cfg,
		media: media.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stt == nil {
		ep := cfg.Role(config.RoleSTT)
		c.stt = stt.NewRemote(ep.Endpoint, cfg.Key(config.RoleSTT), ep.Model, "",
			stt.WithMaxNoSpeechProb(cfg.Transcription.MaxNoSpeechProb))
	}
	if c.llm == nil {
		ep := cfg.Role(config.RoleLLM)
		c.llm = llm.New(ep.Endpoint, cfg.Key(config.RoleLLM), ep.Model)
	}
	if c.vlm == nil {
		ep := cfg.Role(config.RoleVision)
		c.vlm = llm.New(ep.Endpoint, cfg.Key(config.RoleVision), ep.Model,
			llm.WithRole("vision"), llm.WithTimeout(transport.TimeoutVLM))
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// run carries the mutable state of one video's review.
type run struct {
	video     string
	outputDir string
	opts      Options
	ck        *checkpoint.Checkpoint
	audioPath string
}

// Run reviews one video end to end. Fatal errors (missing input, audio
// quality, preflight failures, cancellation) return a nil Outcome; every
// other component failure lands in the report's error list instead.
func (c *Coordinator) Run(ctx context.Context, videoPath, outputDir string, opts Options) (*Outcome, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("pipeline: video not found: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create output dir: %w", err)
	}
	if !opts.SkipValidation {
		if err := c.media.Check(ctx); err != nil {
			return nil, err
		}
		if err := preflight.Run(ctx, c.cfg); err != nil {
			return nil, err
		}
	}

	r, err := c.prepare(videoPath, outputDir, opts)
	if err != nil {
		return nil, err
	}

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"audio", c.stageAudio},
		{"transcription", c.stageTranscription},
		{"detection", c.stageDetection},
		{"screenshots", c.stageScreenshots},
		{"unified_analysis", c.stageAnalysis},
		{"report", c.stageReport},
	}

	for _, st := range stages {
		if opts.DryRun && st.name != "audio" && st.name != "transcription" && st.name != "detection" {
			// Dry-run stops after detection; the remaining stages must not
			// be marked completed so a later real run picks them up.
			continue
		}
		if err := c.runStage(ctx, r, st.name, st.fn); err != nil {
			// The checkpoint already holds every completed stage, so an
			// interrupted run resumes from here.
			return nil, err
		}
	}

	rep := c.assemble(ctx, r)
	if err := c.render(r, rep); err != nil {
		return nil, err
	}

	if opts.DryRun {
		slog.Info("dry run complete, checkpoint kept for resume", "output", outputDir)
	} else {
		if r.audioPath != "" {
			_ = os.Remove(r.audioPath)
		}
		if err := checkpoint.Delete(outputDir); err != nil {
			slog.Warn("checkpoint cleanup failed", "error", err)
		}
	}

	return &Outcome{Report: rep, LastResponseID: r.ck.LastResponseID}, nil
}

// prepare loads or discards a prior checkpoint according to the resume and
// force flags and seeds a fresh one otherwise.
func (c *Coordinator) prepare(videoPath, outputDir string, opts Options) (*run, error) {
	if opts.Force {
		if err := checkpoint.Delete(outputDir); err != nil {
			slog.Warn("force: checkpoint delete failed", "error", err)
		}
	}

	r := &run{video: videoPath, outputDir: outputDir, opts: opts}

	if opts.Resume && !opts.Force {
		if ck := checkpoint.Load(outputDir); ck != nil && checkpoint.ValidFor(ck, videoPath, outputDir, opts.Language) {
			slog.Info("resuming from checkpoint", "completed_stages", ck.CompletedStages)
			r.ck = ck
			r.audioPath = ck.AudioPath
			return r, nil
		}
		slog.Info("no usable checkpoint, starting from scratch")
	}

	hash, err := checkpoint.HashFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: hash video: %w", err)
	}
	r.ck = &checkpoint.Checkpoint{
		VideoPath:      videoPath,
		VideoHash:      hash,
		OutputDir:      outputDir,
		Language:       opts.Language,
		LastResponseID: opts.SeedResponseID,
	}
	return r, nil
}

// runStage executes one stage with checkpointing, metrics, and progress
// events around it. Completed stages are skipped.
func (c *Coordinator) runStage(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ck.Completed(name) {
		r.event(name, "skipped", "already completed")
		return nil
	}

	r.event(name, "started", "")
	start := time.Now()

	if err := fn(ctx, r); err != nil {
		r.event(name, "failed", err.Error())
		if saveErr := checkpoint.Save(r.ck, r.outputDir); saveErr != nil {
			slog.Warn("checkpoint save failed", "stage", name, "error", saveErr)
		}
		return err
	}

	c.metrics.RecordStage(ctx, name, time.Since(start).Seconds())
	r.ck.MarkCompleted(name)
	if err := checkpoint.Save(r.ck, r.outputDir); err != nil {
		slog.Warn("checkpoint save failed", "stage", name, "error", err)
	}
	r.event(name, "completed", "")
	return nil
}

func (r *run) event(stage, status, detail string) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(stage, status, detail)
	}
}

func (r *run) addError(stage string, err error) {
	r.ck.Errors = append(r.ck.Errors, types.PipelineError{Stage: stage, Message: err.Error()})
	slog.Warn("stage degraded", "stage", stage, "error", err)
}

// ─── Stages ──────────────────────────────────────────────────────────────────

func (c *Coordinator) stageAudio(ctx context.Context, r *run) error {
	cacheDir := filepath.Join(r.outputDir, ".cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create cache dir: %w", err)
	}
	r.audioPath = filepath.Join(cacheDir, "audio.wav")
	if err := c.media.ExtractAudio(ctx, r.video, r.audioPath); err != nil {
		return err
	}
	r.ck.AudioPath = r.audioPath
	return nil
}

func (c *Coordinator) stageTranscription(ctx context.Context, r *run) error {
	if _, err := os.Stat(r.audioPath); err != nil {
		// Audio from a previous run was cleaned up; extract again.
		if err := c.stageAudio(ctx, r); err != nil {
			return err
		}
	}

	tr, err := c.stt.Transcribe(ctx, r.audioPath)
	if err != nil {
		if errors.Is(err, stt.ErrAudioQuality) {
			return fmt.Errorf("%s: %w", filepath.Base(r.video), err)
		}
		return err
	}

	r.ck.Transcription = tr
	if tr.ResponseID != "" {
		r.ck.LastResponseID = tr.ResponseID
	}
	slog.Info("transcription complete",
		"segments", len(tr.Segments), "language", tr.Language)
	return nil
}

func (c *Coordinator) stageDetection(ctx context.Context, r *run) error {
	tr := r.ck.Transcription
	level := r.opts.FilterLevel
	if !r.opts.UseSemantic {
		level = FilterKeywords
	}

	var dets []types.Detection
	switch level {
	case FilterKeywords, "":
		kw, err := keywordDetections(tr, r.opts.CustomKeywordsPath)
		if err != nil {
			return err
		}
		dets = kw

	case FilterBase:
		res, err := c.runPrefilter(ctx, r)
		if err != nil || len(res) == 0 {
			if err != nil {
				r.addError("detection", err)
			} else {
				slog.Info("semantic pre-filter found nothing, falling back to keywords")
			}
			kw, kwErr := keywordDetections(tr, r.opts.CustomKeywordsPath)
			if kwErr != nil {
				return kwErr
			}
			dets = kw
			break
		}
		dets = poisToDetections(res)

	case FilterCombined:
		kw, err := keywordDetections(tr, r.opts.CustomKeywordsPath)
		if err != nil {
			return err
		}
		pois, pfErr := c.runPrefilter(ctx, r)
		if pfErr != nil {
			r.addError("detection", pfErr)
			dets = kw
			break
		}
		dets = poisToDetections(merge.POIs(pois, kw))

	default:
		return fmt.Errorf("pipeline: unknown filter level %q", level)
	}

	r.ck.Detections = dets
	slog.Info("detection complete", "level", level, "detections", len(dets))
	return nil
}

func (c *Coordinator) stageScreenshots(ctx context.Context, r *run) error {
	shotDir := filepath.Join(r.outputDir, "screenshots")
	if err := os.MkdirAll(shotDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create screenshots dir: %w", err)
	}

	var kept []types.Detection
	var shots []types.Screenshot
	for i, det := range r.ck.Detections {
		at := min(det.Start()+screenshotOffset, det.End())
		name := fmt.Sprintf("%d_%s_%s.jpg", i+1, det.Category, types.FormatTimestamp(det.Start()))
		path := filepath.Join(shotDir, name)

		if err := c.media.ExtractFrame(ctx, r.video, at, path); err != nil {
			r.addError("screenshots", err)
			continue
		}
		kept = append(kept, det)
		shots = append(shots, types.Screenshot{Detection: det, Path: path})
	}

	r.ck.Detections = kept
	r.ck.Screenshots = shots
	return nil
}

func (c *Coordinator) stageAnalysis(ctx context.Context, r *run) error {
	if !r.opts.UseVision {
		slog.Info("analysis disabled, keeping raw detections")
		r.ck.UnifiedFindings = nil
		return nil
	}
	if len(r.ck.Detections) == 0 {
		slog.Info("nothing to analyze")
		r.ck.UnifiedFindings = nil
		return nil
	}

	items := make([]analyze.Item, len(r.ck.Detections))
	for i, det := range r.ck.Detections {
		items[i] = analyze.Item{ID: i, Detection: det}
		if i < len(r.ck.Screenshots) {
			items[i].FramePath = r.ck.Screenshots[i].Path
		}
	}

	res := analyze.New(c.vlm).Run(ctx, items, analyze.Options{
		Workers:        c.cfg.Analysis.Workers,
		Stagger:        c.cfg.Stagger(),
		Language:       r.opts.Language,
		SeedResponseID: r.ck.LastResponseID,
		OnContent:      r.opts.OnContent,
		Metrics:        c.metrics,
	})
	r.ck.Errors = append(r.ck.Errors, res.Errors...)
	if res.LastResponseID != "" {
		r.ck.LastResponseID = res.LastResponseID
	}

	survivors := c.deduplicate(ctx, res.Findings)
	c.prune(r, survivors)
	r.ck.UnifiedFindings = survivors
	slog.Info("analysis complete",
		"analyzed", len(items), "findings", len(survivors))
	return nil
}

// deduplicate collapses duplicate findings and records the surviving
// categories in the metrics.
func (c *Coordinator) deduplicate(ctx context.Context, findings []*types.UnifiedFinding) []*types.UnifiedFinding {
	vals := make([]types.UnifiedFinding, 0, len(findings))
	for _, f := range findings {
		if f != nil {
			vals = append(vals, *f)
		}
	}

	merged := dedup.Findings(vals)
	out := make([]*types.UnifiedFinding, len(merged))
	for i := range merged {
		out[i] = &merged[i]
		c.metrics.RecordFinding(ctx, string(merged[i].Category))
	}
	return out
}

// prune drops detections and screenshots whose findings did not survive
// deduplication, deleting the orphaned frame files.
func (c *Coordinator) prune(r *run, survivors []*types.UnifiedFinding) {
	keep := make(map[int]bool, len(survivors))
	for _, f := range survivors {
		keep[f.DetectionID] = true
		for _, ref := range f.MergedFromIDs {
			keep[ref.DetectionID] = true
		}
	}

	var dets []types.Detection
	var shots []types.Screenshot
	for i, det := range r.ck.Detections {
		if keep[i] {
			dets = append(dets, det)
			if i < len(r.ck.Screenshots) {
				shots = append(shots, r.ck.Screenshots[i])
			}
			continue
		}
		if i < len(r.ck.Screenshots) {
			_ = os.Remove(r.ck.Screenshots[i].Path)
		}
	}
	r.ck.Detections = dets
	r.ck.Screenshots = shots
}

func (c *Coordinator) stageReport(ctx context.Context, r *run) error {
	if len(r.ck.UnifiedFindings) > 0 {
		sum := summary.Generate(ctx, c.llm, r.ck.UnifiedFindings, r.opts.Language, r.ck.LastResponseID)
		r.ck.ExecutiveSummary = sum.Executive
		r.ck.VisualSummary = sum.Visual
		r.ck.Errors = append(r.ck.Errors, sum.Errors...)
		if sum.ResponseID != "" {
			r.ck.LastResponseID = sum.ResponseID
		}
	}
	return nil
}

// ─── Assembly and rendering ──────────────────────────────────────────────────

func (c *Coordinator) assemble(ctx context.Context, r *run) *report.Report {
	duration, err := c.media.Duration(ctx, r.video)
	if err != nil {
		r.addError("report", err)
	}

	return report.Assemble(&report.Run{
		VideoPath:        r.video,
		OutputDir:        r.outputDir,
		Language:         r.opts.Language,
		DurationSeconds:  duration,
		Transcription:    r.ck.Transcription,
		Detections:       r.ck.Detections,
		Screenshots:      r.ck.Screenshots,
		Findings:         r.ck.UnifiedFindings,
		ExecutiveSummary: r.ck.ExecutiveSummary,
		VisualSummary:    r.ck.VisualSummary,
		Errors:           r.ck.Errors,
		DryRun:           r.opts.DryRun,
	})
}

func (c *Coordinator) render(r *run, rep *report.Report) error {
	if err := report.WriteJSON(rep, filepath.Join(r.outputDir, "report.json")); err != nil {
		return err
	}
	if err := report.WriteMarkdown(rep, filepath.Join(r.outputDir, "report.md")); err != nil {
		return err
	}
	if err := report.WriteHTML(rep, filepath.Join(r.outputDir, "report.html"),
		report.HTMLOptions{EmbedVideo: r.opts.EmbedVideo}); err != nil {
		return err
	}
	if r.ck.Transcription != nil {
		stem := strings.TrimSuffix(filepath.Base(r.video), filepath.Ext(r.video))
		path := filepath.Join(r.outputDir, stem+"_transcript.txt")
		if err := os.WriteFile(path, []byte(r.ck.Transcription.FullText+"\n"), 0o644); err != nil {
			r.addError("report", err)
		}
	}
	return nil
}

// ─── Detection helpers ───────────────────────────────────────────────────────

func keywordDetections(tr *types.Transcription, customPath string) ([]types.Detection, error) {
	var det *keywords.Detector
	var err error
	if customPath != "" {
		det, err = keywords.NewFromFile(customPath)
	} else {
		det, err = keywords.NewDefault()
	}
	if err != nil {
		return nil, err
	}
	return keywords.Merge(det.Scan(tr.Segments), keywords.DefaultMaxGap), nil
}

// runPrefilter executes the semantic pre-filter and threads the response
// id into the run.
func (c *Coordinator) runPrefilter(ctx context.Context, r *run) ([]types.PointOfInterest, error) {
	pf := prefilter.New(c.llm)
	res, err := pf.Run(ctx, r.ck.Transcription, r.ck.LastResponseID)
	if err != nil {
		return nil, err
	}
	if res.ResponseID != "" {
		r.ck.LastResponseID = res.ResponseID
	}
	return pf.Dedup(res.POIs), nil
}

// poisToDetections converts pre-filter POIs into the detection shape the
// analyzer consumes. The synthetic segment spans the POI's time range and
// carries its excerpt; the reasoning becomes the surrounding context.
func poisToDetections(pois []types.PointOfInterest) []types.Detection {
	dets := make([]types.Detection, len(pois))
	for i, p := range pois {
		segID := -1
		if len(p.SegmentIDs) > 0 {
			segID = p.SegmentIDs[0]
		}
		dets[i] = types.Detection{
			Segment: types.Segment{
				ID:    segID,
				Start: p.Start,
				End:   p.End,
				Text:  p.Excerpt,
			},
			Category: p.Category,
			Context:  p.Reasoning,
		}
	}
	return dets
}
