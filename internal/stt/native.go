// This file contains the Native transcriber backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// Compile-time assertion that Native satisfies Transcriber.
var _ Transcriber = (*Native)(nil)

// Native transcribes locally through the whisper.cpp Go bindings,
// avoiding any network dependency. The model is loaded once and shared;
// each Transcribe call creates its own whisper context, so a Native can
// be used from multiple goroutines.
type Native struct {
	model           whisperlib.Model
	language        string
	maxNoSpeechProb float64
}

// NativeOption is a functional option for configuring a [Native].
type NativeOption func(*Native)

// WithNativeLanguage sets the transcription language code (e.g. "pl").
// Empty means whisper auto-detects.
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeMaxNoSpeechProb overrides the audio quality threshold.
func WithNativeMaxNoSpeechProb(p float64) NativeOption {
	return func(n *Native) { n.maxNoSpeechProb = p }
}

// NewNative loads the whisper.cpp model from modelPath. The caller must
// call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("stt: whisper model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load whisper model %q: %w", modelPath, err)
	}
	n := &Native{
		model:           model,
		maxNoSpeechProb: DefaultMaxNoSpeechProb,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe decodes the 16 kHz mono WAV at audioPath and runs
// whisper.cpp inference over the whole file. Segment timestamps come
// from whisper itself; whisper.cpp does not report no_speech_prob per
// segment, so the quality gate only rejects empty transcripts here.
func (n *Native) Transcribe(ctx context.Context, audioPath string) (*types.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stt: read audio: %w", err)
	}
	samples, err := decodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("stt: decode %q: %w", audioPath, err)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("stt: create whisper context: %w", err)
	}
	if n.language != "" {
		if err := wctx.SetLanguage(n.language); err != nil {
			slog.Warn("failed to set whisper language, using auto-detect",
				"language", n.language, "error", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("stt: whisper inference: %w", err)
	}

	tr := &types.Transcription{Language: n.language}
	var parts []string
	for i := 0; ; i++ {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stt: read whisper segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, types.Segment{
			ID:    i,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
		parts = append(parts, text)
	}
	tr.FullText = strings.Join(parts, " ")

	if len(tr.Segments) == 0 {
		return nil, fmt.Errorf("%w: no speech segments detected", ErrAudioQuality)
	}
	return tr, nil
}
