// Package llm talks to OpenAI-compatible model endpoints in two wire
// flavors: the Responses API and legacy Chat Completions. The flavor is
// picked from the endpoint URL, so a single client works against both
// LM Studio style local servers and hosted gateways.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/VetCoders/ScreenScribe-sub000/internal/transport"
)

// Flavor identifies the wire protocol spoken by an endpoint.
type Flavor int

const (
	// FlavorResponses is the Responses API: input parts, instructions,
	// previous_response_id chaining and reasoning summaries.
	FlavorResponses Flavor = iota
	// FlavorChat is the legacy Chat Completions protocol.
	FlavorChat
)

// FlavorFor inspects the endpoint path. Anything routed at
// /chat/completions speaks Chat Completions; everything else is
// assumed to be a Responses endpoint.
func FlavorFor(endpoint string) Flavor {
	if strings.Contains(endpoint, "/chat/completions") {
		return FlavorChat
	}
	return FlavorResponses
}

// Request is a single model invocation. ImageB64, PreviousResponseID
// and ReasoningSummary are ignored by flavors that cannot express them.
type Request struct {
	System string
	Text   string

	// ImageB64 is a base64-encoded JPEG attached as an image part.
	ImageB64 string

	// PreviousResponseID chains this call onto an earlier response so
	// the model carries conversational state server-side.
	PreviousResponseID string

	// MaxOutputTokens caps the completion length when > 0.
	MaxOutputTokens int
}

// Result is the accumulated output of a model call.
type Result struct {
	Text       string
	Reasoning  string
	ResponseID string
}

// Client invokes one model behind one endpoint.
type Client struct {
	tc       *transport.Client
	endpoint string
	apiKey   string
	model    string
	role     string
	timeout  time.Duration
	flavor   Flavor
}

// Option customizes a [Client].
type Option func(*Client)

// WithTransport swaps the HTTP transport, mainly for tests.
func WithTransport(tc *transport.Client) Option {
	return func(c *Client) { c.tc = tc }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRole labels the model role on emitted call metrics. Default "llm".
func WithRole(role string) Option {
	return func(c *Client) { c.role = role }
}

// New builds a client for one endpoint + model pair.
func New(endpoint, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		role:     "llm",
		timeout:  transport.TimeoutLLM,
		flavor:   FlavorFor(endpoint),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tc == nil {
		c.tc = transport.New(transport.WithRole(c.role))
	}
	return c
}

// Model reports the configured model identifier.
func (c *Client) Model() string { return c.model }

// Flavor reports the detected wire protocol.
func (c *Client) Flavor() Flavor { return c.flavor }

// Stream runs req and streams text deltas into onDelta as they arrive.
// The returned [Result] holds the full accumulated text, any reasoning
// summary, and the response ID when the endpoint provides one. onDelta
// may be nil.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string)) (*Result, error) {
	payload := c.buildPayload(req)

	var res Result
	ev := transport.Events{
		OnContent: func(s string) {
			res.Text += s
			if onDelta != nil {
				onDelta(s)
			}
		},
		OnReasoning:  func(s string) { res.Reasoning += s },
		OnResponseID: func(id string) { res.ResponseID = id },
	}
	if err := c.tc.StreamSSE(ctx, c.endpoint, payload, ev, c.timeout, c.header()); err != nil {
		return nil, fmt.Errorf("llm stream (%s): %w", c.model, err)
	}
	return &res, nil
}

// Complete runs req to completion without delta callbacks.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	return c.Stream(ctx, req, nil)
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

func (c *Client) buildPayload(req Request) map[string]any {
	if c.flavor == FlavorChat {
		return c.chatPayload(req)
	}
	return c.responsesPayload(req)
}

func (c *Client) chatPayload(req Request) map[string]any {
	messages := make([]map[string]any, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	if req.ImageB64 != "" {
		messages = append(messages, map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": req.Text},
				{"type": "image_url", "image_url": map[string]any{
					"url": "data:image/jpeg;base64," + req.ImageB64,
				}},
			},
		})
	} else {
		messages = append(messages, map[string]any{"role": "user", "content": req.Text})
	}

	p := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   true,
	}
	if req.MaxOutputTokens > 0 {
		p["max_tokens"] = req.MaxOutputTokens
	}
	return p
}

func (c *Client) responsesPayload(req Request) map[string]any {
	content := []map[string]any{
		{"type": "input_text", "text": req.Text},
	}
	if req.ImageB64 != "" {
		content = append(content, map[string]any{
			"type":      "input_image",
			"image_url": "data:image/jpeg;base64," + req.ImageB64,
		})
	}

	p := map[string]any{
		"model": c.model,
		"input": []map[string]any{
			{"role": "user", "content": content},
		},
		"stream":    true,
		"reasoning": map[string]any{"summary": "auto"},
	}
	if req.System != "" {
		p["instructions"] = req.System
	}
	if req.PreviousResponseID != "" {
		p["previous_response_id"] = req.PreviousResponseID
	}
	if req.MaxOutputTokens > 0 {
		p["max_output_tokens"] = req.MaxOutputTokens
	}
	return p
}
