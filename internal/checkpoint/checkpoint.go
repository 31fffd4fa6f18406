// Package checkpoint persists the pipeline state after every completed
// stage so an interrupted run can resume. The checkpoint is keyed by a
// content hash of the input video; a resumed run with a different video,
// output directory or language discards the checkpoint and starts over.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

const (
	cacheDirName = ".cache"
	fileName     = "checkpoint.json"
)

// Stages is the pipeline stage sequence. CompletedStages is always a
// prefix-closed subset of it.
var Stages = []string{"audio", "transcription", "detection", "screenshots", "unified_analysis", "report"}

// Checkpoint is the JSON document at <output>/.cache/checkpoint.json.
// Optional fields stay nil/empty in older checkpoints; deserialization
// tolerates their absence.
type Checkpoint struct {
	VideoPath        string                  `json:"video_path"`
	VideoHash        string                  `json:"video_hash"`
	OutputDir        string                  `json:"output_dir"`
	Language         string                  `json:"language"`
	CompletedStages  []string                `json:"completed_stages"`
	AudioPath        string                  `json:"audio_path,omitempty"`
	Transcription    *types.Transcription    `json:"transcription,omitempty"`
	Detections       []types.Detection       `json:"detections,omitempty"`
	Screenshots      []types.Screenshot      `json:"screenshots,omitempty"`
	UnifiedFindings  []*types.UnifiedFinding `json:"unified_findings,omitempty"`
	ExecutiveSummary string                  `json:"executive_summary,omitempty"`
	VisualSummary    string                  `json:"visual_summary,omitempty"`
	LastResponseID   string                  `json:"last_response_id,omitempty"`
	Errors           []types.PipelineError   `json:"errors,omitempty"`
}

// Completed reports whether the named stage already ran. Stage names not
// in [Stages] never count as completed, so checkpoints from newer or
// older versions simply re-execute the stages they cannot vouch for.
func (c *Checkpoint) Completed(stage string) bool {
	if !knownStage(stage) {
		return false
	}
	for _, s := range c.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// MarkCompleted appends the stage, keeping CompletedStages free of
// duplicates.
func (c *Checkpoint) MarkCompleted(stage string) {
	if c.Completed(stage) {
		return
	}
	c.CompletedStages = append(c.CompletedStages, stage)
}

func knownStage(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Load reads the checkpoint under outputDir. A missing, malformed or
// schema-incompatible file yields nil without surfacing an error; the
// run simply starts from the first stage.
func Load(outputDir string) *Checkpoint {
	raw, err := os.ReadFile(path(outputDir))
	if err != nil {
		return nil
	}
	var ck Checkpoint
	if err := json.Unmarshal(raw, &ck); err != nil {
		slog.Warn("discarding malformed checkpoint", "path", path(outputDir), "error", err)
		return nil
	}
	return &ck
}

// ValidFor reports whether ck belongs to exactly this run: same video
// path, output directory, language and video content hash.
func ValidFor(ck *Checkpoint, videoPath, outputDir, language string) bool {
	if ck == nil {
		return false
	}
	if ck.VideoPath != videoPath || ck.OutputDir != outputDir || ck.Language != language {
		return false
	}
	hash, err := HashFile(videoPath)
	if err != nil {
		return false
	}
	return ck.VideoHash == hash
}

// HashFile returns the first 16 hex characters of the file's SHA-256.
func HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("checkpoint: open %q: %w", filePath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checkpoint: hash %q: %w", filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Save writes the checkpoint atomically: temp file in the cache
// directory, then rename.
func Save(ck *Checkpoint, outputDir string) error {
	dir := filepath.Join(outputDir, cacheDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(ck, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path(outputDir)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Delete removes the checkpoint file and the cache directory when the
// directory has nothing else in it.
func Delete(outputDir string) error {
	if err := os.Remove(path(outputDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	dir := filepath.Join(outputDir, cacheDirName)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
	return nil
}

func path(outputDir string) string {
	return filepath.Join(outputDir, cacheDirName, fileName)
}
