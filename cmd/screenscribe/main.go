// Command screenscribe turns screencast recordings with spoken commentary
// into structured review reports: transcription, keyword and semantic
// detection, frame analysis by a vision model, and Markdown/HTML/JSON output.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// configFile is the --config override; empty means discovery.
var configFile string

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "screenscribe: telemetry init: %v\n", err)
		return 1
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "screenscribe: cancelled")
			return 130
		}
		fmt.Fprintf(os.Stderr, "screenscribe: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "screenscribe",
		Short: "Batch review engine for screencasts with spoken commentary",
		Long: `ScreenScribe reviews screen recordings by listening to what the reviewer
says: it transcribes the audio, finds the moments worth looking at, grabs
the matching frames, runs them through a vision model, and writes a
deduplicated review report as Markdown, HTML, and JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./screenscribe.yaml, then XDG config home)")

	root.AddCommand(newReviewCmd(), newTranscribeCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig discovers, loads, resolves, and validates the configuration.
// With no config file anywhere the defaults plus the environment overlay
// must carry the whole setup.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.Discover()
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		slog.Debug("config loaded", "path", path)
	} else {
		cfg = config.Default()
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the screenscribe version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "screenscribe %s\n", version)
		},
	}
}
