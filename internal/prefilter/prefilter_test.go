package prefilter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

func testTranscription() *types.Transcription {
	return &types.Transcription{
		Language: "pl",
		Segments: []types.Segment{
			{ID: 0, Start: 0.0, End: 3.0, Text: "otwieram aplikację"},
			{ID: 1, Start: 3.0, End: 6.5, Text: "ten przycisk nie działa"},
			{ID: 2, Start: 6.5, End: 9.0, Text: "trzeba to poprawić"},
			{ID: 3, Start: 20.0, End: 24.0, Text: "layout się rozjeżdża"},
		},
	}
}

// sseServer streams a single content payload then [DONE].
func sseServer(t *testing.T, responseID, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		events := []string{
			fmt.Sprintf(`{"type":"response.created","response":{"id":%q}}`, responseID),
		}
		// Split the content into two deltas to exercise accumulation.
		half := len(content) / 2
		for _, chunk := range []string{content[:half], content[half:]} {
			b, _ := json.Marshal(map[string]any{"type": "response.output_text.delta", "delta": chunk})
			events = append(events, string(b))
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			fl.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
	}))
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(testTranscription())
	if !strings.Contains(got, "[3.0 - 6.5] ten przycisk nie działa") {
		t.Errorf("prompt missing timestamped line:\n%s", got)
	}
	if lines := strings.Count(got, "\n"); lines != 4 {
		t.Errorf("prompt lines = %d, want 4", lines)
	}
}

func TestRun_ParsesPOIs(t *testing.T) {
	content := `[
		{"start": 3.0, "end": 9.0, "category": "bug", "confidence": 0.9,
		 "reasoning": "przycisk nie reaguje", "excerpt": "ten przycisk nie działa"},
		{"start": 20.0, "end": 24.0, "category": "nonsense", "confidence": 1.7,
		 "reasoning": "układ", "excerpt": "layout się rozjeżdża"}
	]`
	srv := sseServer(t, "resp_pf", content)
	defer srv.Close()

	f := New(llm.New(srv.URL+"/v1/responses", "", "test-model"))
	res, err := f.Run(context.Background(), testTranscription(), "resp_prev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ResponseID != "resp_pf" {
		t.Errorf("response id = %q", res.ResponseID)
	}
	if len(res.POIs) != 2 {
		t.Fatalf("pois = %d, want 2", len(res.POIs))
	}

	first := res.POIs[0]
	if first.Category != types.CategoryBug || first.Confidence != 0.9 {
		t.Errorf("first poi = %+v", first)
	}
	// Segments 1 and 2 sit inside [3,9]±1; segment 0 and 3 do not.
	if len(first.SegmentIDs) != 2 || first.SegmentIDs[0] != 1 || first.SegmentIDs[1] != 2 {
		t.Errorf("segment ids = %v, want [1 2]", first.SegmentIDs)
	}

	second := res.POIs[1]
	if second.Category != types.CategoryOther {
		t.Errorf("invalid category not coerced to other: %v", second.Category)
	}
	if second.Confidence != 1.0 {
		t.Errorf("confidence not clamped: %v", second.Confidence)
	}
}

func TestRun_GarbageAnswerYieldsEmpty(t *testing.T) {
	srv := sseServer(t, "resp_g", "I could not find anything of note, sorry!")
	defer srv.Close()

	f := New(llm.New(srv.URL+"/v1/responses", "", "test-model"))
	res, err := f.Run(context.Background(), testTranscription(), "")
	if err != nil {
		t.Fatalf("Run returned error on unparseable answer: %v", err)
	}
	if len(res.POIs) != 0 {
		t.Errorf("pois = %v, want none", res.POIs)
	}
	if res.ResponseID != "resp_g" {
		t.Errorf("response id lost: %q", res.ResponseID)
	}
}

func TestRun_InvalidRangeDropped(t *testing.T) {
	content := `[{"start": 9.0, "end": 3.0, "category": "bug", "confidence": 0.5,
		"reasoning": "x", "excerpt": "y"}]`
	srv := sseServer(t, "r", content)
	defer srv.Close()

	f := New(llm.New(srv.URL+"/v1/responses", "", "test-model"))
	res, err := f.Run(context.Background(), testTranscription(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.POIs) != 0 {
		t.Errorf("inverted range kept: %v", res.POIs)
	}
}

func TestDedup_MergesSimilarPOIs(t *testing.T) {
	f := New(nil)
	pois := []types.PointOfInterest{
		{Start: 3.0, End: 6.0, Category: types.CategoryBug, Confidence: 0.6,
			Reasoning: "przycisk zapisu nie działa", Excerpt: "przycisk nie działa",
			SegmentIDs: []int{1}},
		{Start: 4.0, End: 9.0, Category: types.CategoryBug, Confidence: 0.9,
			Reasoning: "przycisk zapisu nie reaguje", Excerpt: "przycisk nie działa wcale",
			SegmentIDs: []int{1, 2}},
		{Start: 40.0, End: 45.0, Category: types.CategoryUI, Confidence: 0.5,
			Reasoning: "kolory menu są nieczytelne", Excerpt: "menu ma złe kolory",
			SegmentIDs: []int{7}},
	}

	out := f.Dedup(pois)
	if len(out) != 2 {
		t.Fatalf("deduped = %d, want 2", len(out))
	}
	merged := out[0]
	if merged.Start != 3.0 || merged.End != 9.0 {
		t.Errorf("span = [%v, %v], want widest [3, 9]", merged.Start, merged.End)
	}
	if merged.Confidence != 0.9 {
		t.Errorf("confidence = %v, want max 0.9", merged.Confidence)
	}
	if len(merged.SegmentIDs) != 2 {
		t.Errorf("segment ids = %v, want union [1 2]", merged.SegmentIDs)
	}
	if !strings.Contains(merged.Reasoning, " | ") {
		t.Errorf("reasonings not joined: %q", merged.Reasoning)
	}
}

func TestDedup_SingleAndEmptyPassThrough(t *testing.T) {
	f := New(nil)
	if got := f.Dedup(nil); got != nil {
		t.Errorf("Dedup(nil) = %v", got)
	}
	one := []types.PointOfInterest{{Start: 1, End: 2}}
	if got := f.Dedup(one); len(got) != 1 {
		t.Errorf("Dedup(one) = %v", got)
	}
}
