package stt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// Compile-time assertion that Remote satisfies Transcriber.
var _ Transcriber = (*Remote)(nil)

// Remote transcribes through an OpenAI-compatible /audio/transcriptions
// endpoint using response_format=verbose_json.
type Remote struct {
	tc              *transport.Client
	endpoint        string
	apiKey          string
	model           string
	language        string
	maxNoSpeechProb float64
}

// RemoteOption is a functional option for configuring a [Remote].
type RemoteOption func(*Remote)

// WithRemoteTransport swaps the HTTP transport, mainly for tests.
func WithRemoteTransport(tc *transport.Client) RemoteOption {
	return func(r *Remote) { r.tc = tc }
}

// WithMaxNoSpeechProb overrides the audio quality threshold.
func WithMaxNoSpeechProb(p float64) RemoteOption {
	return func(r *Remote) { r.maxNoSpeechProb = p }
}

// NewRemote builds a remote transcriber. language may be empty, in which
// case the server auto-detects it.
func NewRemote(endpoint, apiKey, model, language string, opts ...RemoteOption) *Remote {
	r := &Remote{
		tc:              transport.New(transport.WithRole("stt")),
		endpoint:        endpoint,
		apiKey:          apiKey,
		model:           model,
		language:        language,
		maxNoSpeechProb: DefaultMaxNoSpeechProb,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// verboseJSON mirrors the verbose_json transcription response shape.
type verboseJSON struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	ResponseID string `json:"response_id"`
	Segments   []struct {
		ID           int     `json:"id"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and converts the verbose_json
// response into a [types.Transcription]. It returns [ErrAudioQuality]
// when the result fails the quality gate.
func (r *Remote) Transcribe(ctx context.Context, audioPath string) (*types.Transcription, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stt: read audio: %w", err)
	}

	fields := map[string]string{
		"model":           r.model,
		"response_format": "verbose_json",
	}
	if r.language != "" {
		fields["language"] = r.language
	}

	var header http.Header
	if r.apiKey != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+r.apiKey)
	}

	slog.Debug("submitting audio for transcription",
		"file", filepath.Base(audioPath), "bytes", len(data), "model", r.model)

	var resp verboseJSON
	files := []transport.FormFile{{Field: "file", Filename: filepath.Base(audioPath), Data: data}}
	if err := r.tc.PostMultipart(ctx, r.endpoint, files, fields, &resp, transport.TimeoutTranscription, header); err != nil {
		return nil, fmt.Errorf("stt: transcription request: %w", err)
	}

	tr := &types.Transcription{
		Language:   resp.Language,
		FullText:   strings.TrimSpace(resp.Text),
		ResponseID: resp.ResponseID,
	}
	if tr.Language == "" {
		tr.Language = r.language
	}
	for _, s := range resp.Segments {
		tr.Segments = append(tr.Segments, types.Segment{
			ID:           s.ID,
			Start:        s.Start,
			End:          s.End,
			Text:         strings.TrimSpace(s.Text),
			NoSpeechProb: s.NoSpeechProb,
		})
	}

	if err := checkQuality(tr, r.maxNoSpeechProb); err != nil {
		return nil, err
	}
	return tr, nil
}
