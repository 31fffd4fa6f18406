package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// doneSentinel terminates an SSE stream.
const doneSentinel = "[DONE]"

// Events receives the decoded flavours of streaming events. Any callback
// may be nil. Callbacks run on the goroutine that called StreamSSE and are
// never invoked after StreamSSE returns.
type Events struct {
	// OnContent receives answer-text deltas.
	OnContent func(delta string)

	// OnReasoning receives reasoning-summary deltas.
	OnReasoning func(delta string)

	// OnResponseID receives the server-assigned response identifier. It may
	// fire more than once (response.created and response.completed both
	// carry it); the last value wins.
	OnResponseID func(id string)
}

// sseEvent is the superset of every streaming event shape the upstream
// server emits. Unknown types are ignored; the parser is deliberately
// tolerant.
type sseEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta"`
	Text  string          `json:"text"`

	Response struct {
		ID string `json:"id"`
	} `json:"response"`

	// Legacy chat-completions chunk shape.
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamSSE opens a streaming POST to url with a JSON payload and feeds
// every `data:` line through ev. `event:` lines are framing only and are
// skipped; the `[DONE]` sentinel (or EOF) ends the stream. The initial
// connection goes through the retry policy; once bytes are flowing a broken
// stream surfaces as an error without retry.
func (c *Client) StreamSSE(ctx context.Context, url string, payload any, ev Events, timeout time.Duration, header http.Header) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hdr := http.Header{}
	for k, vs := range header {
		hdr[k] = vs
	}
	hdr.Set("Accept", "text/event-stream")

	resp, err := c.Do(ctx, http.MethodPost, url, "application/json", body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Model output lines can exceed bufio's 64 KiB default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte("event:")) || bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if string(data) == doneSentinel {
			return nil
		}
		handleSSEData(data, ev)
	}
	return scanner.Err()
}

// handleSSEData decodes one `data:` JSON object and dispatches it. Lines
// that fail to decode are dropped; a midstream hiccup must not kill the
// whole stream.
func handleSSEData(data []byte, ev Events) {
	var e sseEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return
	}

	switch e.Type {
	case "response.output_text.delta",
		"response.content_part.delta",
		"content.delta",
		"response.text.delta":
		if d := decodeDelta(e.Delta); d != "" && ev.OnContent != nil {
			ev.OnContent(d)
		}

	case "response.reasoning_summary_text.delta":
		if d := decodeDelta(e.Delta); d != "" && ev.OnReasoning != nil {
			ev.OnReasoning(d)
		}

	case "response.reasoning_summary_text.done":
		// Full text already delivered via deltas.

	case "response.created":
		if e.Response.ID != "" && ev.OnResponseID != nil {
			ev.OnResponseID(e.Response.ID)
		}

	case "response.completed", "response.done":
		if e.Response.ID != "" && ev.OnResponseID != nil {
			ev.OnResponseID(e.Response.ID)
		}

	case "":
		// Legacy chat-completions chunk: no type field, content rides in
		// choices[0].delta.content.
		if len(e.Choices) > 0 && e.Choices[0].Delta.Content != "" && ev.OnContent != nil {
			ev.OnContent(e.Choices[0].Delta.Content)
		}

	default:
		// Unknown event type: ignore.
	}
}

// decodeDelta extracts the text of a delta field, which the server encodes
// either as a bare JSON string or as an object with a "text" member.
func decodeDelta(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return strings.TrimSpace(string(raw))
}
