package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFlavorFor(t *testing.T) {
	tests := []struct {
		endpoint string
		want     Flavor
	}{
		{"http://localhost:1234/v1/chat/completions", FlavorChat},
		{"https://api.example.com/v1/responses", FlavorResponses},
		{"http://localhost:9090/v1/responses", FlavorResponses},
		{"https://gw.internal/llm", FlavorResponses},
	}
	for _, tc := range tests {
		if got := FlavorFor(tc.endpoint); got != tc.want {
			t.Errorf("FlavorFor(%q) = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
}

func TestResponsesPayload(t *testing.T) {
	c := New("https://api.example.com/v1/responses", "k", "gpt-test")
	p := c.buildPayload(Request{
		System:             "be brief",
		Text:               "describe the frame",
		ImageB64:           "aGVsbG8=",
		PreviousResponseID: "resp_prev",
	})

	if p["model"] != "gpt-test" {
		t.Errorf("model = %v", p["model"])
	}
	if p["instructions"] != "be brief" {
		t.Errorf("instructions = %v", p["instructions"])
	}
	if p["previous_response_id"] != "resp_prev" {
		t.Errorf("previous_response_id = %v", p["previous_response_id"])
	}
	reasoning, ok := p["reasoning"].(map[string]any)
	if !ok || reasoning["summary"] != "auto" {
		t.Errorf("reasoning = %v, want summary auto", p["reasoning"])
	}

	input := p["input"].([]map[string]any)
	content := input[0]["content"].([]map[string]any)
	if len(content) != 2 {
		t.Fatalf("content parts = %d, want 2", len(content))
	}
	if content[0]["type"] != "input_text" || content[1]["type"] != "input_image" {
		t.Errorf("part types = %v, %v", content[0]["type"], content[1]["type"])
	}
	if url := content[1]["image_url"].(string); !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("image_url = %q, want data URL", url)
	}
}

func TestChatPayload(t *testing.T) {
	c := New("http://localhost:1234/v1/chat/completions", "", "local-model")

	t.Run("text only", func(t *testing.T) {
		p := c.buildPayload(Request{System: "sys", Text: "hello", PreviousResponseID: "ignored"})
		msgs := p["messages"].([]map[string]any)
		if len(msgs) != 2 {
			t.Fatalf("messages = %d, want 2", len(msgs))
		}
		if msgs[0]["role"] != "system" || msgs[1]["content"] != "hello" {
			t.Errorf("messages = %v", msgs)
		}
		if _, ok := p["previous_response_id"]; ok {
			t.Error("chat payload carries previous_response_id")
		}
		if _, ok := p["reasoning"]; ok {
			t.Error("chat payload carries reasoning")
		}
	})

	t.Run("with image", func(t *testing.T) {
		p := c.buildPayload(Request{Text: "look", ImageB64: "aGk="})
		msgs := p["messages"].([]map[string]any)
		parts := msgs[len(msgs)-1]["content"].([]map[string]any)
		if len(parts) != 2 || parts[1]["type"] != "image_url" {
			t.Errorf("parts = %v", parts)
		}
	})
}

func TestStream_AccumulatesAndChains(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, l := range []string{
			`data: {"type":"response.created","response":{"id":"resp_42"}}`,
			`data: {"type":"response.output_text.delta","delta":"part one "}`,
			`data: {"type":"response.reasoning_summary_text.delta","delta":"why"}`,
			`data: {"type":"response.output_text.delta","delta":"part two"}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", l)
			fl.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/responses", "secret", "gpt-test")
	var deltas []string
	res, err := c.Stream(context.Background(), Request{Text: "go"}, func(s string) {
		deltas = append(deltas, s)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.Text != "part one part two" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Reasoning != "why" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
	if res.ResponseID != "resp_42" {
		t.Errorf("response id = %q", res.ResponseID)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v, want 2 chunks", deltas)
	}
	if gotPayload["stream"] != true {
		t.Errorf("payload stream = %v", gotPayload["stream"])
	}
}

func TestComplete_ErrorWrapsModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/responses", "bad", "gpt-test")
	_, err := c.Complete(context.Background(), Request{Text: "x"})
	if err == nil {
		t.Fatal("Complete succeeded on 401")
	}
	if !strings.Contains(err.Error(), "gpt-test") {
		t.Errorf("error %q does not name the model", err)
	}
}
