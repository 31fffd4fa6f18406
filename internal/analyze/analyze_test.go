package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID: i,
			Detection: types.Detection{
				Segment:  types.Segment{ID: i, Start: float64(i * 10), End: float64(i*10 + 5), Text: fmt.Sprintf("uwaga numer %d", i)},
				Category: types.CategoryBug,
			},
		}
	}
	return items
}

var reviewerRe = regexp.MustCompile(`Reviewer said: (uwaga numer \d+)`)

// findingServer answers every request with a well-formed finding whose
// summary echoes the reviewer line from the request, so tests can check
// result ordering regardless of completion order.
func findingServer(t *testing.T, onRequest func(body map[string]any)) *httptest.Server {
	t.Helper()
	var seq atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if onRequest != nil {
			onRequest(body)
		}

		echo := "unknown"
		if b, _ := json.Marshal(body); b != nil {
			if m := reviewerRe.FindSubmatch(b); m != nil {
				echo = string(m[1])
			}
		}
		n := seq.Add(1)

		finding, _ := json.Marshal(map[string]any{
			"is_issue": true,
			"category": "bug",
			"severity": "high",
			"summary":  "finding for " + echo,
		})
		delta, _ := json.Marshal(map[string]any{"type": "response.output_text.delta", "delta": string(finding)})

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_%d\"}}\n\n", n)
		fmt.Fprintf(w, "data: %s\n\n", delta)
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
	}))
}

func TestRun_PreservesInputOrder(t *testing.T) {
	srv := findingServer(t, nil)
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), testItems(6), Options{Workers: 3, Stagger: time.Millisecond})

	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v", res.Errors)
	}
	for i, f := range res.Findings {
		if f == nil {
			t.Fatalf("finding %d missing", i)
		}
		want := fmt.Sprintf("uwaga numer %d", i)
		if !strings.Contains(f.Summary, want) {
			t.Errorf("finding %d summary = %q, want it to mention %q", i, f.Summary, want)
		}
		if f.DetectionID != i {
			t.Errorf("finding %d detection id = %d", i, f.DetectionID)
		}
	}
	if res.LastResponseID == "" {
		t.Error("no response id captured")
	}
}

func TestRun_ChainsResponseIDs(t *testing.T) {
	var mu sync.Mutex
	var prevIDs []string
	srv := findingServer(t, func(body map[string]any) {
		mu.Lock()
		id, _ := body["previous_response_id"].(string)
		prevIDs = append(prevIDs, id)
		mu.Unlock()
	})
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), testItems(3), Options{
		Workers:        1, // sequential, so chaining is deterministic
		Stagger:        time.Millisecond,
		SeedResponseID: "resp_seed",
	})

	if len(prevIDs) != 3 {
		t.Fatalf("requests = %d", len(prevIDs))
	}
	if prevIDs[0] != "resp_seed" {
		t.Errorf("first previous_response_id = %q, want seed", prevIDs[0])
	}
	for i := 1; i < len(prevIDs); i++ {
		if !strings.HasPrefix(prevIDs[i], "resp_") || prevIDs[i] == "resp_seed" {
			t.Errorf("request %d previous_response_id = %q, want a chained server id", i, prevIDs[i])
		}
	}
	if res.LastResponseID == "resp_seed" {
		t.Error("last response id never advanced")
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"{\\\"summary\\\":\\\"x\\\"}\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	a.Run(context.Background(), testItems(8), Options{Workers: 2, Stagger: time.Millisecond})

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want ≤ 2", p)
	}
}

func TestRun_SentinelOnUnparseableAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"I refuse to answer in JSON.\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_s\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), testItems(1), Options{Stagger: time.Millisecond})

	f := res.Findings[0]
	if f == nil {
		t.Fatal("sentinel finding missing")
	}
	if !f.IsIssue || f.Severity != types.SeverityMedium {
		t.Errorf("sentinel = is_issue %v severity %v, want issue/medium", f.IsIssue, f.Severity)
	}
	if f.Summary != "I refuse to answer in JSON." {
		t.Errorf("sentinel summary = %q, want raw content", f.Summary)
	}
	if !strings.Contains(f.SuggestedFix, "parsed") {
		t.Errorf("sentinel suggested_fix = %q", f.SuggestedFix)
	}
}

func TestRun_FailedItemLeavesNilAndError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), "uwaga numer 1") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"{\\\"summary\\\":\\\"ok\\\",\\\"is_issue\\\":true,\\\"severity\\\":\\\"low\\\"}\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), testItems(3), Options{Workers: 2, Stagger: time.Millisecond})

	if res.Findings[0] == nil || res.Findings[2] == nil {
		t.Error("healthy siblings lost their findings")
	}
	if res.Findings[1] != nil {
		t.Errorf("failed item produced a finding: %+v", res.Findings[1])
	}
	if len(res.Errors) != 1 || res.Errors[0].Stage != "unified_analysis" {
		t.Errorf("errors = %v, want one unified_analysis error", res.Errors)
	}
}

func TestRun_AttachesFrame(t *testing.T) {
	frame := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(frame, []byte{0xFF, 0xD8, 0xFF}, 0o644); err != nil {
		t.Fatal(err)
	}

	var sawImage atomic.Bool
	srv := findingServer(t, func(body map[string]any) {
		b, _ := json.Marshal(body)
		if strings.Contains(string(b), "input_image") {
			sawImage.Store(true)
		}
	})
	defer srv.Close()

	items := testItems(1)
	items[0].FramePath = frame

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), items, Options{Stagger: time.Millisecond})

	if !sawImage.Load() {
		t.Error("request carried no input_image part")
	}
	if res.Findings[0] == nil || res.Findings[0].ScreenshotPath != frame {
		t.Errorf("finding lost its screenshot path: %+v", res.Findings[0])
	}
}

func TestRun_InFlightGaugeReturnsToZero(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	srv := findingServer(t, nil)
	defer srv.Close()

	a := New(llm.New(srv.URL+"/v1/responses", "", "vlm-test"))
	res := a.Run(context.Background(), testItems(4), Options{
		Workers: 2,
		Stagger: time.Millisecond,
		Metrics: m,
	})
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v", res.Errors)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "screenscribe.analyses.in_flight" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("in_flight data is %T, want Sum[int64]", met.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			if total != 0 {
				t.Errorf("in-flight analyses after run = %d, want 0", total)
			}
			return
		}
	}
	t.Fatal("in-flight analyses gauge never recorded")
}
