// Package stt turns an extracted audio file into a [types.Transcription].
// Two implementations exist: a remote OpenAI-compatible transcription
// endpoint and a local whisper.cpp backend behind a build tag-free CGO
// binding. Both enforce the same audio quality gate.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// ErrAudioQuality marks a recording whose audio is unusable: the
// transcript came back empty or the no-speech probability says the
// track is mostly silence. It is fatal and never retried.
var ErrAudioQuality = errors.New("audio quality too low to transcribe")

// DefaultMaxNoSpeechProb is the mean no_speech_prob above which a
// transcription is rejected. The upstream behavior was inconsistent
// across call sites, so the threshold is configurable; 0.9 keeps
// everything except near-silent recordings.
const DefaultMaxNoSpeechProb = 0.9

// Transcriber produces a transcription from an audio file on disk.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*types.Transcription, error)
}

// checkQuality applies the shared audio gate to a finished transcription.
func checkQuality(tr *types.Transcription, maxNoSpeechProb float64) error {
	if len(tr.Segments) == 0 {
		return fmt.Errorf("%w: no speech segments detected", ErrAudioQuality)
	}
	if mean := tr.MeanNoSpeechProb(); mean > maxNoSpeechProb {
		return fmt.Errorf("%w: mean no_speech_prob %.2f exceeds %.2f", ErrAudioQuality, mean, maxNoSpeechProb)
	}
	return nil
}
