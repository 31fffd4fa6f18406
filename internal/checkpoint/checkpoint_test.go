package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

func writeVideo(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testCheckpoint(t *testing.T, video, outputDir string) *Checkpoint {
	t.Helper()
	hash, err := HashFile(video)
	if err != nil {
		t.Fatal(err)
	}
	return &Checkpoint{
		VideoPath:       video,
		VideoHash:       hash,
		OutputDir:       outputDir,
		Language:        "pl",
		CompletedStages: []string{"audio", "transcription"},
		Transcription: &types.Transcription{
			Language: "pl",
			FullText: "nie działa",
			Segments: []types.Segment{{ID: 0, Start: 0, End: 2, Text: "nie działa"}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "in.mp4", []byte("video-bytes"))
	ck := testCheckpoint(t, video, dir)

	if err := Save(ck, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(dir)
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.VideoHash != ck.VideoHash || got.Language != "pl" {
		t.Errorf("loaded = %+v", got)
	}
	if got.Transcription == nil || got.Transcription.FullText != "nie działa" {
		t.Errorf("transcription lost: %+v", got.Transcription)
	}
	if len(got.CompletedStages) != 2 {
		t.Errorf("completed stages = %v", got.CompletedStages)
	}
}

func TestLoad_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	if ck := Load(dir); ck != nil {
		t.Errorf("Load(missing) = %+v, want nil", ck)
	}

	cache := filepath.Join(dir, ".cache")
	if err := os.MkdirAll(cache, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache, "checkpoint.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ck := Load(dir); ck != nil {
		t.Errorf("Load(malformed) = %+v, want nil", ck)
	}
}

func TestValidFor(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "in.mp4", []byte("original"))
	ck := testCheckpoint(t, video, dir)

	if !ValidFor(ck, video, dir, "pl") {
		t.Error("checkpoint invalid for its own run")
	}
	if ValidFor(ck, video, dir, "en") {
		t.Error("checkpoint valid despite language change")
	}
	if ValidFor(ck, video, filepath.Join(dir, "other"), "pl") {
		t.Error("checkpoint valid despite output dir change")
	}
	if ValidFor(nil, video, dir, "pl") {
		t.Error("nil checkpoint valid")
	}

	// Same path, different content: the hash must catch it.
	writeVideo(t, dir, "in.mp4", []byte("re-exported video"))
	if ValidFor(ck, video, dir, "pl") {
		t.Error("checkpoint valid despite changed video content")
	}
}

func TestCompleted_UnknownStagesTolerated(t *testing.T) {
	ck := &Checkpoint{CompletedStages: []string{"audio", "holographic_render"}}
	if !ck.Completed("audio") {
		t.Error("known completed stage not recognized")
	}
	if ck.Completed("holographic_render") {
		t.Error("unknown stage counted as completed; it must re-execute")
	}
	if ck.Completed("transcription") {
		t.Error("unstarted stage counted as completed")
	}
}

func TestMarkCompleted_NoDuplicates(t *testing.T) {
	ck := &Checkpoint{}
	ck.MarkCompleted("audio")
	ck.MarkCompleted("audio")
	ck.MarkCompleted("transcription")
	if len(ck.CompletedStages) != 2 {
		t.Errorf("completed stages = %v", ck.CompletedStages)
	}
}

func TestDelete_RemovesFileAndEmptyCacheDir(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "in.mp4", []byte("x"))
	if err := Save(testCheckpoint(t, video, dir), dir); err != nil {
		t.Fatal(err)
	}

	if err := Delete(dir); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".cache")); !os.IsNotExist(err) {
		t.Error("empty cache dir not removed")
	}
	// Deleting again is a no-op.
	if err := Delete(dir); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestDelete_KeepsNonEmptyCacheDir(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "in.mp4", []byte("x"))
	if err := Save(testCheckpoint(t, video, dir), dir); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, ".cache", "other.tmp")
	if err := os.WriteFile(other, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Delete(dir); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated cache file removed: %v", err)
	}
}

func TestHashFile_Is16Hex(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "in.mp4", []byte("content"))
	h, err := HashFile(video)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 16 {
		t.Errorf("hash = %q, want 16 hex chars", h)
	}
	h2, _ := HashFile(video)
	if h != h2 {
		t.Error("hash not deterministic")
	}
}
