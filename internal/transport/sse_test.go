package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type sseCapture struct {
	content   strings.Builder
	reasoning strings.Builder
	ids       []string
}

func (c *sseCapture) events() Events {
	return Events{
		OnContent:    func(s string) { c.content.WriteString(s) },
		OnReasoning:  func(s string) { c.reasoning.WriteString(s) },
		OnResponseID: func(id string) { c.ids = append(c.ids, id) },
	}
}

func TestHandleSSEData_EventShapes(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		wantContent   string
		wantReasoning string
		wantIDs       int
	}{
		{
			name:        "output_text delta string",
			data:        `{"type":"response.output_text.delta","delta":"hello"}`,
			wantContent: "hello",
		},
		{
			name:        "content_part delta object",
			data:        `{"type":"response.content_part.delta","delta":{"text":"abc"}}`,
			wantContent: "abc",
		},
		{
			name:        "bare content delta",
			data:        `{"type":"content.delta","delta":"xyz"}`,
			wantContent: "xyz",
		},
		{
			name:        "text delta",
			data:        `{"type":"response.text.delta","delta":"123"}`,
			wantContent: "123",
		},
		{
			name:          "reasoning summary delta",
			data:          `{"type":"response.reasoning_summary_text.delta","delta":"thinking"}`,
			wantReasoning: "thinking",
		},
		{
			name:          "reasoning summary done",
			data:          `{"type":"response.reasoning_summary_text.done","text":"final thought"}`,
			wantReasoning: "final thought",
		},
		{
			name:    "response created carries id",
			data:    `{"type":"response.created","response":{"id":"resp_1"}}`,
			wantIDs: 1,
		},
		{
			name:    "response completed carries id",
			data:    `{"type":"response.completed","response":{"id":"resp_2"}}`,
			wantIDs: 1,
		},
		{
			name:        "legacy chat completions chunk",
			data:        `{"choices":[{"delta":{"content":"legacy"}}]}`,
			wantContent: "legacy",
		},
		{
			name: "unknown type ignored",
			data: `{"type":"response.audio.delta","delta":"zzz"}`,
		},
		{
			name: "malformed json dropped",
			data: `{"type":"response.output_text.delta","delta":`,
		},
		{
			name: "empty delta ignored",
			data: `{"type":"response.output_text.delta","delta":""}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var rec sseCapture
			handleSSEData([]byte(tc.data), rec.events())
			if got := rec.content.String(); got != tc.wantContent {
				t.Errorf("content = %q, want %q", got, tc.wantContent)
			}
			if got := rec.reasoning.String(); got != tc.wantReasoning {
				t.Errorf("reasoning = %q, want %q", got, tc.wantReasoning)
			}
			if len(rec.ids) != tc.wantIDs {
				t.Errorf("response ids = %v, want %d", rec.ids, tc.wantIDs)
			}
		})
	}
}

func TestHandleSSEData_NilCallbacks(t *testing.T) {
	// Must not panic when no callbacks are registered.
	handleSSEData([]byte(`{"type":"response.output_text.delta","delta":"x"}`), Events{})
	handleSSEData([]byte(`{"type":"response.created","response":{"id":"r"}}`), Events{})
}

func TestStreamSSE_AccumulatesAcrossEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		lines := []string{
			`event: response.created`,
			`data: {"type":"response.created","response":{"id":"resp_a"}}`,
			``,
			`data: {"type":"response.output_text.delta","delta":"one "}`,
			``,
			`: keep-alive comment`,
			`data: {"type":"response.reasoning_summary_text.delta","delta":"because"}`,
			``,
			`data: {"type":"response.output_text.delta","delta":"two"}`,
			``,
			`data: {"type":"response.completed","response":{"id":"resp_a"}}`,
			``,
			`data: [DONE]`,
			``,
		}
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
			fl.Flush()
		}
	}))
	defer srv.Close()

	var rec sseCapture
	err := New().StreamSSE(context.Background(), srv.URL, map[string]string{"stream": "true"}, rec.events(), 10*time.Second, nil)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if got := rec.content.String(); got != "one two" {
		t.Errorf("content = %q, want %q", got, "one two")
	}
	if got := rec.reasoning.String(); got != "because" {
		t.Errorf("reasoning = %q, want %q", got, "because")
	}
	if len(rec.ids) != 2 || rec.ids[0] != "resp_a" {
		t.Errorf("response ids = %v, want [resp_a resp_a]", rec.ids)
	}
}

func TestStreamSSE_HTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	err := New().StreamSSE(context.Background(), srv.URL, map[string]string{}, Events{}, 5*time.Second, nil)
	if err == nil {
		t.Fatal("StreamSSE succeeded on 401")
	}
}
