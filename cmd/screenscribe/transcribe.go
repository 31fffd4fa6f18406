package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	iso639_3 "github.com/barbashov/iso639-3"
	"github.com/spf13/cobra"

	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/media"
	"github.com/VetCoders/ScreenScribe-sub000/internal/stt"
)

func newTranscribeCmd() *cobra.Command {
	var (
		output       string
		lang         string
		local        bool
		whisperModel string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <video>",
		Short: "Transcribe a video's audio track without reviewing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd.Context(), args[0], output, lang, local, whisperModel)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&output, "output", "o", "", "transcript file (default: <video>_transcript.txt)")
	fl.StringVar(&lang, "lang", "pl", "commentary language (ISO 639 code)")
	fl.BoolVar(&local, "local", false, "transcribe locally with whisper.cpp")
	fl.StringVar(&whisperModel, "whisper-model", "", "path to a ggml whisper model (required with --local)")

	return cmd
}

func runTranscribe(ctx context.Context, video, output, lang string, local bool, whisperModel string) error {
	if iso639_3.FromAnyCode(lang) == nil {
		return fmt.Errorf("unknown language code %q", lang)
	}
	if local && whisperModel == "" {
		return errors.New("--local requires --whisper-model")
	}
	if _, err := os.Stat(video); err != nil {
		return fmt.Errorf("video not found: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "screenscribe-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, "audio.wav")
	if err := media.New().ExtractAudio(ctx, video, audioPath); err != nil {
		return err
	}

	var transcriber stt.Transcriber
	if local {
		native, err := stt.NewNative(whisperModel,
			stt.WithNativeLanguage(lang),
			stt.WithNativeMaxNoSpeechProb(cfg.Transcription.MaxNoSpeechProb))
		if err != nil {
			return err
		}
		defer native.Close()
		transcriber = native
	} else {
		ep := cfg.Role(config.RoleSTT)
		transcriber = stt.NewRemote(ep.Endpoint, cfg.Key(config.RoleSTT), ep.Model, lang,
			stt.WithMaxNoSpeechProb(cfg.Transcription.MaxNoSpeechProb))
	}

	tr, err := transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return err
	}

	if output == "" {
		stem := strings.TrimSuffix(video, filepath.Ext(video))
		output = stem + "_transcript.txt"
	}
	if err := os.WriteFile(output, []byte(tr.FullText+"\n"), 0o644); err != nil {
		return err
	}

	fmt.Printf("%s: %d segments (%s) written to %s\n",
		filepath.Base(video), len(tr.Segments), tr.Language, output)
	return nil
}
