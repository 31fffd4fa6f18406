// Package preflight validates the configured endpoints before any real
// work starts, so a bad API key or model name fails in seconds instead
// of after a ten-minute transcription upload.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
)

// Kind classifies a fatal preflight failure.
type Kind string

const (
	KindAPIKey           Kind = "api_key"
	KindModelName        Kind = "model_name"
	KindModelUnavailable Kind = "model_unavailable"
)

// Error is a fatal configuration problem found during preflight.
type Error struct {
	Role config.Role
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preflight %s (%s): %v", e.Role, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Run probes all three endpoints and returns every fatal problem
// joined. 200 and 400 both count as healthy: the service answered and
// knows the model. Timeouts on the LLM/VLM probes are logged and
// tolerated; the call might still succeed with its real, longer
// timeout.
func Run(ctx context.Context, cfg *config.Config) error {
	var errs []error

	if err := probeSTT(ctx, cfg); err != nil {
		errs = append(errs, err)
	}
	for _, role := range []config.Role{config.RoleLLM, config.RoleVision} {
		if err := probeModel(ctx, cfg, role); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// probeSTT sends a multipart request with an empty audio part. An
// unreachable STT service is fatal: nothing downstream can run without
// a transcript.
func probeSTT(ctx context.Context, cfg *config.Config) error {
	ep := cfg.Role(config.RoleSTT)

	var header http.Header
	if key := cfg.Key(config.RoleSTT); key != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+key)
	}

	files := []transport.FormFile{{Field: "file", Filename: "probe.wav", Data: []byte{}}}
	fields := map[string]string{"model": ep.Model, "response_format": "verbose_json"}

	err := transport.New(transport.WithRole("stt")).PostMultipart(ctx, ep.Endpoint, files, fields, nil, transport.TimeoutPreflight, header)
	if err == nil {
		return nil
	}

	var he *transport.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == http.StatusBadRequest:
			return nil // service answered; the empty probe was rejected as expected
		case he.Status == http.StatusUnauthorized:
			return &Error{Role: config.RoleSTT, Kind: KindAPIKey, Err: err}
		case he.Status == http.StatusNotFound:
			return &Error{Role: config.RoleSTT, Kind: KindModelName, Err: err}
		default:
			return &Error{Role: config.RoleSTT, Kind: KindModelUnavailable, Err: err}
		}
	}
	return &Error{Role: config.RoleSTT, Kind: KindModelUnavailable, Err: err}
}

// probeModel sends a single-token request to the role's model.
func probeModel(ctx context.Context, cfg *config.Config, role config.Role) error {
	ep := cfg.Role(role)
	client := llm.New(ep.Endpoint, cfg.Key(role), ep.Model,
		llm.WithRole(string(role)), llm.WithTimeout(transport.TimeoutPreflight))

	_, err := client.Complete(ctx, llm.Request{Text: "ping", MaxOutputTokens: 1})
	if err == nil {
		return nil
	}

	var he *transport.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == http.StatusBadRequest:
			return nil
		case he.Status == http.StatusUnauthorized:
			return &Error{Role: role, Kind: KindAPIKey, Err: err}
		case he.Status == http.StatusNotFound:
			return &Error{Role: role, Kind: KindModelName, Err: err}
		case he.Status == http.StatusServiceUnavailable && strings.Contains(strings.ToLower(he.Body), "model"):
			return &Error{Role: role, Kind: KindModelUnavailable, Err: err}
		}
	}

	// Timeouts and other transient conditions: continue optimistically.
	slog.Warn("preflight probe inconclusive, continuing", "role", role, "error", err)
	return nil
}
