// Package merge reconciles the semantic pre-filter's points of interest with
// the regex keyword detections into one unified stream of candidate time
// ranges.
//
// Keyword detections that land close to an existing POI raise that POI's
// confidence; the rest are promoted to synthetic POIs. A final sweep merges
// POIs whose time ranges overlap or abut.
package merge

import (
	"sort"
	"strings"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

const (
	// proximity is the window in seconds within which a keyword detection
	// boosts a POI instead of becoming its own candidate.
	proximity = 3.0

	// confidenceBoost is added to a POI confirmed by a keyword detection.
	confidenceBoost = 0.2

	// promotedConfidence is assigned to a keyword detection promoted to a POI.
	promotedConfidence = 0.7
)

// POIs merges keyword detections into pois and returns the unified candidate
// list sorted by start time. The inputs are not modified.
func POIs(pois []types.PointOfInterest, dets []types.Detection) []types.PointOfInterest {
	out := append([]types.PointOfInterest(nil), pois...)

	for _, det := range dets {
		if i := nearestPOI(out, det.Start()); i >= 0 {
			out[i].Confidence += confidenceBoost
			if out[i].Confidence > 1.0 {
				out[i].Confidence = 1.0
			}
			continue
		}
		out = append(out, promote(det))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return sweep(out)
}

// nearestPOI returns the index of the first POI whose start is within
// proximity seconds of ts, or -1.
func nearestPOI(pois []types.PointOfInterest, ts float64) int {
	for i := range pois {
		d := pois[i].Start - ts
		if d < 0 {
			d = -d
		}
		if d <= proximity {
			return i
		}
	}
	return -1
}

// promote turns a keyword detection into a synthetic POI.
func promote(det types.Detection) types.PointOfInterest {
	return types.PointOfInterest{
		Start:      det.Start(),
		End:        det.End(),
		Category:   det.Category,
		Confidence: promotedConfidence,
		Reasoning:  "Keyword detection: " + strings.Join(det.KeywordsFound, ", "),
		Excerpt:    det.Segment.Text,
		SegmentIDs: []int{det.Segment.ID},
	}
}

// sweep merges POIs whose intervals overlap or abut within proximity
// seconds. pois must be sorted by start. The merged POI spans the union
// range, keeps the category of the most confident member, the union of
// segment ids, and concatenates reasonings and excerpts.
func sweep(pois []types.PointOfInterest) []types.PointOfInterest {
	if len(pois) == 0 {
		return nil
	}

	out := []types.PointOfInterest{pois[0]}
	for _, p := range pois[1:] {
		last := &out[len(out)-1]
		if p.Start-last.End > proximity {
			out = append(out, p)
			continue
		}

		if p.Confidence > last.Confidence {
			last.Category = p.Category
			last.Confidence = p.Confidence
		}
		if p.End > last.End {
			last.End = p.End
		}
		last.SegmentIDs = unionInts(last.SegmentIDs, p.SegmentIDs)
		last.Reasoning = joinDistinct(last.Reasoning, p.Reasoning)
		last.Excerpt = joinDistinct(last.Excerpt, p.Excerpt)
	}
	return out
}

// joinDistinct concatenates b onto a with a separator, skipping empty or
// repeated parts.
func joinDistinct(a, b string) string {
	if b == "" || a == b {
		return a
	}
	if a == "" {
		return b
	}
	return a + " | " + b
}

// unionInts returns the sorted union of a and b.
func unionInts(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
