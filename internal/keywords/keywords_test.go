package keywords

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

func mustDefault(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDefault()
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	return d
}

func TestScan_PolishThreeSegmentTranscript(t *testing.T) {
	// The canonical review commentary: one bug, one change request, one UI remark.
	segments := []types.Segment{
		{ID: 0, Start: 0, End: 2, Text: "To nie działa."},
		{ID: 1, Start: 2, End: 4, Text: "Trzeba to poprawić."},
		{ID: 2, Start: 4, End: 6, Text: "Layout jest ok."},
	}

	dets := mustDefault(t).Scan(segments)
	if len(dets) != 3 {
		t.Fatalf("Scan returned %d detections, want 3: %+v", len(dets), dets)
	}

	wantCats := []types.Category{types.CategoryBug, types.CategoryChange, types.CategoryUI}
	for i, want := range wantCats {
		if dets[i].Category != want {
			t.Errorf("detection %d category = %s, want %s", i, dets[i].Category, want)
		}
	}
}

func TestScan_CaseInsensitive(t *testing.T) {
	segments := []types.Segment{{ID: 0, Start: 0, End: 1, Text: "BROKEN again"}}
	dets := mustDefault(t).Scan(segments)
	if len(dets) != 1 || dets[0].Category != types.CategoryBug {
		t.Fatalf("Scan = %+v, want one bug detection", dets)
	}
}

func TestScan_PriorityBugOverUI(t *testing.T) {
	// Matches both a bug pattern ("nie działa") and a ui pattern ("przycisk").
	segments := []types.Segment{{ID: 0, Start: 0, End: 1, Text: "Przycisk nie działa"}}
	dets := mustDefault(t).Scan(segments)
	if len(dets) != 1 {
		t.Fatalf("Scan returned %d detections, want 1", len(dets))
	}
	if dets[0].Category != types.CategoryBug {
		t.Errorf("category = %s, want bug (priority over ui)", dets[0].Category)
	}
	if len(dets[0].KeywordsFound) < 2 {
		t.Errorf("KeywordsFound = %v, want matches from both categories", dets[0].KeywordsFound)
	}
}

func TestScan_ContextWindow(t *testing.T) {
	segments := []types.Segment{
		{ID: 0, Start: 0, End: 1, Text: "Otwieram aplikację."},
		{ID: 1, Start: 1, End: 2, Text: "Tu jest błąd."},
		{ID: 2, Start: 2, End: 3, Text: "Idziemy dalej."},
	}
	dets := mustDefault(t).Scan(segments)
	if len(dets) != 1 {
		t.Fatalf("Scan returned %d detections, want 1", len(dets))
	}
	want := "Otwieram aplikację. Tu jest błąd. Idziemy dalej."
	if dets[0].Context != want {
		t.Errorf("Context = %q, want %q", dets[0].Context, want)
	}
}

func TestMerge_WithinGap(t *testing.T) {
	dets := []types.Detection{
		{Segment: types.Segment{ID: 0, Start: 0, End: 2, Text: "a"}, Category: types.CategoryBug, KeywordsFound: []string{"error"}},
		{Segment: types.Segment{ID: 1, Start: 6, End: 8, Text: "b"}, Category: types.CategoryBug, KeywordsFound: []string{"broken"}},
	}
	// Gap is 4 s ≤ 5 s: must merge.
	out := Merge(dets, DefaultMaxGap)
	if len(out) != 1 {
		t.Fatalf("Merge returned %d detections, want 1", len(out))
	}
	m := out[0]
	if m.Segment.Start != 0 || m.Segment.End != 8 {
		t.Errorf("merged range = [%v, %v], want [0, 8]", m.Segment.Start, m.Segment.End)
	}
	if len(m.KeywordsFound) != 2 {
		t.Errorf("KeywordsFound = %v, want union of both", m.KeywordsFound)
	}
	if m.Segment.Text != "a b" {
		t.Errorf("merged text = %q, want %q", m.Segment.Text, "a b")
	}
}

func TestMerge_BeyondGap(t *testing.T) {
	dets := []types.Detection{
		{Segment: types.Segment{ID: 0, Start: 0, End: 2}, Category: types.CategoryBug},
		{Segment: types.Segment{ID: 1, Start: 8, End: 10}, Category: types.CategoryBug},
	}
	if out := Merge(dets, DefaultMaxGap); len(out) != 2 {
		t.Errorf("Merge returned %d detections, want 2 (gap 6 s > 5 s)", len(out))
	}
}

func TestMerge_DifferentCategoriesNeverMerge(t *testing.T) {
	dets := []types.Detection{
		{Segment: types.Segment{ID: 0, Start: 0, End: 2}, Category: types.CategoryBug},
		{Segment: types.Segment{ID: 1, Start: 2, End: 4}, Category: types.CategoryUI},
	}
	if out := Merge(dets, DefaultMaxGap); len(out) != 2 {
		t.Errorf("Merge returned %d detections, want 2", len(out))
	}
}

func TestMerge_OnlyConsecutiveMerge(t *testing.T) {
	// bug, ui, bug: the two bug detections are within the gap of each other
	// but not consecutive, so they must not merge.
	dets := []types.Detection{
		{Segment: types.Segment{ID: 0, Start: 0, End: 2}, Category: types.CategoryBug},
		{Segment: types.Segment{ID: 1, Start: 2, End: 3}, Category: types.CategoryUI},
		{Segment: types.Segment{ID: 2, Start: 3, End: 5}, Category: types.CategoryBug},
	}
	if out := Merge(dets, DefaultMaxGap); len(out) != 3 {
		t.Errorf("Merge returned %d detections, want 3", len(out))
	}
}

func TestNewFromFile_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kw.yaml")
	content := "bug:\n  - \"kaboom\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	dets := d.Scan([]types.Segment{{ID: 0, Start: 0, End: 1, Text: "and then KABOOM"}})
	if len(dets) != 1 || dets[0].Category != types.CategoryBug {
		t.Fatalf("Scan with override = %+v, want one bug detection", dets)
	}
}

func TestNewFromFile_BadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kw.yaml")
	if err := os.WriteFile(path, []byte("bug:\n  - \"([invalid\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromFile(path); err == nil {
		t.Error("NewFromFile accepted an invalid regex")
	}
}

func TestNewFromFile_UnknownCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kw.yaml")
	if err := os.WriteFile(path, []byte("nonsense:\n  - \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromFile(path); err == nil {
		t.Error("NewFromFile accepted an unknown category")
	}
}
