// Package dedup merges near-duplicate unified findings.
//
// Deduplication runs in two stages. The exact stage groups findings whose
// summaries are identical after lowercasing and whitespace collapsing,
// regardless of category. The similar stage then greedily groups the
// remaining findings: two findings belong together when they share a
// category, their timestamps differ by at most 30 seconds, and the
// language-aware similarity of their summaries reaches 0.4.
//
// Each group collapses onto its earliest member; severity is the group
// maximum and provenance is preserved through MergedFromIDs. Findings is
// idempotent: applying it to its own output changes nothing.
package dedup

import (
	"sort"

	"github.com/VetCoders/ScreenScribe-sub000/internal/similarity"
	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

const (
	// MaxTimestampDelta bounds the similar stage in seconds.
	MaxTimestampDelta = 30.0

	// SimilarityThreshold is the minimum score for the similar stage.
	SimilarityThreshold = 0.4

	// maxActionItems caps the merged action item list.
	maxActionItems = 5
)

// Findings deduplicates fs and returns the merged list ordered by timestamp.
// The input is not modified.
func Findings(fs []types.UnifiedFinding) []types.UnifiedFinding {
	return FindingsWith(similarity.Default(), fs)
}

// FindingsWith is [Findings] with an explicit similarity scorer, for callers
// that carry their own dictionaries.
func FindingsWith(scorer *similarity.Scorer, fs []types.UnifiedFinding) []types.UnifiedFinding {
	if len(fs) <= 1 {
		return append([]types.UnifiedFinding(nil), fs...)
	}

	// Stage 1: exact normalized-summary groups, category-agnostic.
	order := make([]string, 0, len(fs))
	exact := make(map[string][]types.UnifiedFinding, len(fs))
	for _, f := range fs {
		key := types.NormalizeSummary(f.Summary)
		if _, seen := exact[key]; !seen {
			order = append(order, key)
		}
		exact[key] = append(exact[key], f)
	}

	stage1 := make([]types.UnifiedFinding, 0, len(order))
	for _, key := range order {
		stage1 = append(stage1, mergeGroup(exact[key]))
	}

	// Stage 2: greedy similarity groups, category- and time-bounded. Greedy
	// grouping is not transitive, so repeat until a pass merges nothing;
	// that fixpoint is what makes Findings idempotent.
	out := stage1
	for {
		next := similarPass(scorer, out)
		if len(next) == len(out) {
			out = next
			break
		}
		out = next
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// similarPass runs one greedy grouping pass over fs.
func similarPass(scorer *similarity.Scorer, fs []types.UnifiedFinding) []types.UnifiedFinding {
	used := make([]bool, len(fs))
	var out []types.UnifiedFinding
	for i := range fs {
		if used[i] {
			continue
		}
		group := []types.UnifiedFinding{fs[i]}
		used[i] = true
		for j := i + 1; j < len(fs); j++ {
			if used[j] {
				continue
			}
			if !similar(scorer, fs[i], fs[j]) {
				continue
			}
			group = append(group, fs[j])
			used[j] = true
		}
		out = append(out, mergeGroup(group))
	}
	return out
}

// similar reports whether a and b qualify for the similar-stage group.
func similar(scorer *similarity.Scorer, a, b types.UnifiedFinding) bool {
	if a.Category != b.Category {
		return false
	}
	delta := a.Timestamp - b.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > MaxTimestampDelta {
		return false
	}
	return scorer.Score(a.Summary, b.Summary) >= SimilarityThreshold
}

// mergeGroup collapses a group onto its earliest member. Severity becomes
// the group maximum, IsIssue the OR, action items and affected components
// the order-preserving deduplicated unions (action items truncated to 5),
// and every absorbed (detection id, timestamp) pair lands in MergedFromIDs.
// Visual fields come from the base.
func mergeGroup(group []types.UnifiedFinding) types.UnifiedFinding {
	if len(group) == 1 {
		return group[0]
	}

	sorted := append([]types.UnifiedFinding(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	base := sorted[0]
	actions := append([]string(nil), base.ActionItems...)
	components := append([]string(nil), base.AffectedComponents...)
	merged := append([]types.FindingRef(nil), base.MergedFromIDs...)

	for _, f := range sorted[1:] {
		if f.Severity.Rank() > base.Severity.Rank() {
			base.Severity = f.Severity
		}
		base.IsIssue = base.IsIssue || f.IsIssue
		actions = append(actions, f.ActionItems...)
		components = append(components, f.AffectedComponents...)
		merged = append(merged, types.FindingRef{DetectionID: f.DetectionID, Timestamp: f.Timestamp})
		merged = append(merged, f.MergedFromIDs...)
	}

	actions = dedupStrings(actions)
	if len(actions) > maxActionItems {
		actions = actions[:maxActionItems]
	}
	base.ActionItems = actions
	base.AffectedComponents = dedupStrings(components)
	base.MergedFromIDs = merged
	base.Normalize()
	return base
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
