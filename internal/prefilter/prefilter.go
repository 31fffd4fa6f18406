// Package prefilter runs the semantic pre-filter: the full time-stamped
// transcript goes to the language model, which flags points of interest
// worth a closer look. The pre-filter is recall-favoring; downstream
// analysis and deduplication tighten precision.
package prefilter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/internal/llm"
	"github.com/VetCoders/ScreenScribe-sub000/internal/prompts"
	"github.com/VetCoders/ScreenScribe-sub000/internal/similarity"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// segmentTolerance widens the POI time range when resolving which
// transcript segments belong to it.
const segmentTolerance = 1.0

// dedupThreshold groups near-duplicate POIs by text similarity over
// excerpt + reasoning.
const dedupThreshold = 0.45

// Filter drives pre-filter calls against one LLM endpoint.
type Filter struct {
	client *llm.Client
	scorer *similarity.Scorer
}

// New builds a pre-filter around the given model client.
func New(client *llm.Client) *Filter {
	return &Filter{client: client, scorer: similarity.Default()}
}

// Result carries the parsed POIs and the server-assigned response id
// for downstream chaining.
type Result struct {
	POIs       []types.PointOfInterest
	ResponseID string
}

// rawPOI mirrors the JSON shape the prompt requests from the model.
type rawPOI struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Excerpt    string  `json:"excerpt"`
}

// Run submits the transcript and parses the streamed answer into POIs.
// Individual unparseable POIs are dropped; a fully unparseable answer
// yields an empty list, never an error, so the coordinator can fall
// back to keyword detection.
func (f *Filter) Run(ctx context.Context, tr *types.Transcription, prevResponseID string) (*Result, error) {
	prompt := BuildPrompt(tr)

	res, err := f.client.Stream(ctx, llm.Request{
		System:             prompts.Get(prompts.Prefilter, tr.Language, false),
		Text:               prompt,
		PreviousResponseID: prevResponseID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("prefilter: %w", err)
	}

	var raws []rawPOI
	if err := llm.RepairParse(res.Text, &raws); err != nil {
		slog.Warn("pre-filter answer not parseable, returning no points of interest",
			"error", err, "content_len", len(res.Text))
		return &Result{ResponseID: res.ResponseID}, nil
	}

	pois := make([]types.PointOfInterest, 0, len(raws))
	for _, r := range raws {
		poi, ok := f.toPOI(r, tr)
		if !ok {
			continue
		}
		pois = append(pois, poi)
	}
	return &Result{POIs: f.Dedup(pois), ResponseID: res.ResponseID}, nil
}

// BuildPrompt renders the transcript with one `[start - end] text` line
// per segment.
func BuildPrompt(tr *types.Transcription) string {
	var b strings.Builder
	for _, s := range tr.Segments {
		fmt.Fprintf(&b, "[%.1f - %.1f] %s\n", s.Start, s.End, s.Text)
	}
	return b.String()
}

func (f *Filter) toPOI(r rawPOI, tr *types.Transcription) (types.PointOfInterest, bool) {
	if r.Start < 0 || r.End < r.Start {
		return types.PointOfInterest{}, false
	}
	cat := types.Category(r.Category)
	if !cat.IsValid() {
		cat = types.CategoryOther
	}
	conf := r.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return types.PointOfInterest{
		Start:      r.Start,
		End:        r.End,
		Category:   cat,
		Confidence: conf,
		Reasoning:  r.Reasoning,
		Excerpt:    r.Excerpt,
		SegmentIDs: resolveSegments(r.Start, r.End, tr),
	}, true
}

// resolveSegments returns the ids of all segments lying within the POI
// range widened by the tolerance on both sides.
func resolveSegments(start, end float64, tr *types.Transcription) []int {
	var ids []int
	for _, s := range tr.Segments {
		if s.Start >= start-segmentTolerance && s.End <= end+segmentTolerance {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Dedup collapses POIs whose excerpt+reasoning text is similar. Each
// group keeps the widest time span, the union of segment ids, the
// maximum confidence, and the distinct reasonings joined together.
func (f *Filter) Dedup(pois []types.PointOfInterest) []types.PointOfInterest {
	if len(pois) < 2 {
		return pois
	}

	key := func(p types.PointOfInterest) string { return p.Excerpt + " " + p.Reasoning }

	used := make([]bool, len(pois))
	var out []types.PointOfInterest
	for i := range pois {
		if used[i] {
			continue
		}
		group := []types.PointOfInterest{pois[i]}
		used[i] = true
		for j := i + 1; j < len(pois); j++ {
			if used[j] {
				continue
			}
			if f.scorer.Score(key(pois[i]), key(pois[j])) >= dedupThreshold {
				group = append(group, pois[j])
				used[j] = true
			}
		}
		out = append(out, mergePOIs(group))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Start < out[b].Start })
	return out
}

func mergePOIs(group []types.PointOfInterest) types.PointOfInterest {
	merged := group[0]
	idSet := map[int]bool{}
	var reasonings []string
	seenReason := map[string]bool{}
	for _, p := range group {
		if p.Start < merged.Start {
			merged.Start = p.Start
		}
		if p.End > merged.End {
			merged.End = p.End
		}
		if p.Confidence > merged.Confidence {
			merged.Confidence = p.Confidence
		}
		for _, id := range p.SegmentIDs {
			idSet[id] = true
		}
		if r := strings.TrimSpace(p.Reasoning); r != "" && !seenReason[r] {
			seenReason[r] = true
			reasonings = append(reasonings, r)
		}
	}
	merged.SegmentIDs = sortedKeys(idSet)
	merged.Reasoning = strings.Join(reasonings, " | ")
	return merged
}

func sortedKeys(m map[int]bool) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
