package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	iso639_3 "github.com/barbashov/iso639-3"
	"github.com/dustin/go-humanize"
	progressbar "github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/VetCoders/ScreenScribe-sub000/internal/checkpoint"
	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/media"
	"github.com/VetCoders/ScreenScribe-sub000/internal/pipeline"
	"github.com/VetCoders/ScreenScribe-sub000/internal/serve"
	"github.com/VetCoders/ScreenScribe-sub000/internal/stt"
	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
)

type reviewFlags struct {
	output         string
	lang           string
	local          bool
	whisperModel   string
	semantic       bool
	noSemantic     bool
	vision         bool
	noVision       bool
	keywordsOnly   bool
	keywordsFile   string
	filter         string
	resume         bool
	force          bool
	skipValidation bool
	dryRun         bool
	estimate       bool
	embedVideo     bool
	serveReport    bool
	port           int
}

func newReviewCmd() *cobra.Command {
	f := &reviewFlags{}
	cmd := &cobra.Command{
		Use:   "review <video>...",
		Short: "Review one or more screencast videos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd.Context(), f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "output directory (default: <video>_review next to the video)")
	fl.StringVar(&f.lang, "lang", "pl", "commentary language (ISO 639 code)")
	fl.BoolVar(&f.local, "local", false, "transcribe locally with whisper.cpp instead of the STT endpoint")
	fl.StringVar(&f.whisperModel, "whisper-model", "", "path to a ggml whisper model (required with --local)")
	fl.BoolVar(&f.semantic, "semantic", true, "use the semantic pre-filter")
	fl.BoolVar(&f.noSemantic, "no-semantic", false, "disable the semantic pre-filter")
	fl.BoolVar(&f.vision, "vision", true, "analyze extracted frames with the vision model")
	fl.BoolVar(&f.noVision, "no-vision", false, "skip model analysis; report detections and screenshots only")
	fl.BoolVar(&f.keywordsOnly, "keywords-only", false, "detect with keyword patterns only")
	fl.StringVar(&f.keywordsFile, "keywords-file", "", "custom keyword patterns YAML")
	fl.StringVar(&f.filter, "filter", "", "detection filter level: keywords, base or combined (default derived from --semantic)")
	fl.BoolVar(&f.resume, "resume", false, "resume from a checkpoint when one matches")
	fl.BoolVar(&f.force, "force", false, "discard any existing checkpoint")
	fl.BoolVar(&f.skipValidation, "skip-validation", false, "skip the endpoint preflight")
	fl.BoolVar(&f.dryRun, "dry-run", false, "run transcription and detection only, keep the checkpoint")
	fl.BoolVar(&f.estimate, "estimate", false, "print a processing estimate and exit")
	fl.BoolVar(&f.embedVideo, "embed-video", false, "embed a video player in the HTML report")
	fl.BoolVar(&f.serveReport, "serve", false, "serve the report directory after the run")
	fl.IntVar(&f.port, "port", serve.DefaultPort, "report server port")

	return cmd
}

func runReview(ctx context.Context, f *reviewFlags, videos []string) error {
	if iso639_3.FromAnyCode(f.lang) == nil {
		return fmt.Errorf("unknown language code %q", f.lang)
	}
	if f.local && f.whisperModel == "" {
		return errors.New("--local requires --whisper-model")
	}
	level, err := filterLevel(f)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if f.estimate {
		return printEstimate(ctx, videos)
	}

	coord, closeSTT, err := buildCoordinator(cfg, f)
	if err != nil {
		return err
	}
	defer closeSTT()

	opts := pipeline.Options{
		Language:           f.lang,
		UseSemantic:        f.semantic && !f.noSemantic && !f.keywordsOnly,
		UseVision:          f.vision && !f.noVision,
		FilterLevel:        level,
		CustomKeywordsPath: f.keywordsFile,
		Resume:             f.resume,
		Force:              f.force,
		SkipValidation:     f.skipValidation,
		DryRun:             f.dryRun,
		EmbedVideo:         f.embedVideo,
	}

	var hub *serve.Hub
	var srvErr chan error
	if f.serveReport {
		hub = serve.NewHub()
		srv := serve.New(outputDir(f, videos[0], len(videos) > 1),
			serve.WithAddr(fmt.Sprintf(":%d", f.port)),
			serve.WithHub(hub))
		srvErr = make(chan error, 1)
		go func() { srvErr <- srv.Start(ctx) }()
	}

	bar := newStageBar(len(videos))
	var firstErr error

	for _, video := range videos {
		out := outputDir(f, video, len(videos) > 1)
		name := filepath.Base(video)
		vopts := opts
		vopts.OnEvent = func(stage, status, detail string) {
			if status == "completed" || status == "skipped" {
				_ = bar.Add(1)
			}
			bar.Describe(fmt.Sprintf("%s: %s", name, stage))
			if hub != nil {
				hub.Publish(serve.Event{Video: name, Stage: stage, Status: status, Detail: detail})
			}
		}
		if hub != nil {
			vopts.OnContent = func(_ int, delta string) {
				hub.Publish(serve.Event{Video: name, Stage: "unified_analysis", Status: "delta", Detail: delta})
			}
		}

		res, err := coord.Run(ctx, video, out, vopts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(os.Stderr, "screenscribe: %s: %v\n", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// Chain the next video onto this conversation, best-effort.
		opts.SeedResponseID = res.LastResponseID
		printRunSummary(video, out, res)
	}
	_ = bar.Finish()

	if f.serveReport && firstErr == nil {
		fmt.Fprintf(os.Stderr, "serving report on http://localhost:%d (Ctrl+C to stop)\n", f.port)
		if err := <-srvErr; err != nil {
			return err
		}
	}
	return firstErr
}

// buildCoordinator assembles the pipeline with the transcriber the flags
// ask for. The returned closer releases a local whisper model, if any.
func buildCoordinator(cfg *config.Config, f *reviewFlags) (*pipeline.Coordinator, func(), error) {
	if f.local {
		native, err := stt.NewNative(f.whisperModel,
			stt.WithNativeLanguage(f.lang),
			stt.WithNativeMaxNoSpeechProb(cfg.Transcription.MaxNoSpeechProb))
		if err != nil {
			return nil, nil, err
		}
		coord := pipeline.New(cfg, pipeline.WithTranscriber(native))
		return coord, func() { _ = native.Close() }, nil
	}

	ep := cfg.Role(config.RoleSTT)
	remote := stt.NewRemote(ep.Endpoint, cfg.Key(config.RoleSTT), ep.Model, f.lang,
		stt.WithMaxNoSpeechProb(cfg.Transcription.MaxNoSpeechProb))
	coord := pipeline.New(cfg, pipeline.WithTranscriber(remote))
	return coord, func() {}, nil
}

func filterLevel(f *reviewFlags) (string, error) {
	switch f.filter {
	case pipeline.FilterKeywords, pipeline.FilterBase, pipeline.FilterCombined:
		return f.filter, nil
	case "":
	default:
		return "", fmt.Errorf("unknown filter level %q (want keywords, base or combined)", f.filter)
	}
	if f.keywordsOnly || f.noSemantic || !f.semantic {
		return pipeline.FilterKeywords, nil
	}
	return pipeline.FilterCombined, nil
}

// outputDir picks the report directory for one video. Batch runs always get
// a per-video subdirectory.
func outputDir(f *reviewFlags, video string, batch bool) string {
	stem := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
	switch {
	case f.output != "" && batch:
		return filepath.Join(f.output, stem)
	case f.output != "":
		return f.output
	default:
		return filepath.Join(filepath.Dir(video), stem+"_review")
	}
}

func newStageBar(videos int) *progressbar.ProgressBar {
	return progressbar.NewOptions(videos*len(checkpoint.Stages),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// printEstimate reports video sizes and a rough processing time without
// starting a run. The per-minute figure assumes remote transcription plus a
// handful of vision calls; local transcription is slower.
func printEstimate(ctx context.Context, videos []string) error {
	adapter := media.New()
	var total time.Duration

	for _, video := range videos {
		info, err := os.Stat(video)
		if err != nil {
			return err
		}
		seconds, err := adapter.Duration(ctx, video)
		if err != nil {
			return err
		}

		// Transcription roughly tracks a tenth of real time; each detected
		// moment costs one vision call bounded by the VLM timeout.
		est := time.Duration(seconds/10)*time.Second +
			time.Duration(seconds/60)*transport.TimeoutVLM/4
		total += est

		fmt.Printf("%s: %s of video, %s on disk, about %s to process\n",
			filepath.Base(video),
			(time.Duration(seconds) * time.Second).Round(time.Second),
			humanize.Bytes(uint64(info.Size())),
			est.Round(time.Second))
	}
	if len(videos) > 1 {
		fmt.Printf("total: about %s\n", total.Round(time.Second))
	}
	return nil
}

func printRunSummary(video, out string, res *pipeline.Outcome) {
	c := res.Report.Counts
	fmt.Printf("%s: %d findings (%d issues) from %d detections, report at %s\n",
		filepath.Base(video), c.Total, c.Issues, c.Detections, filepath.Join(out, "report.md"))
}
