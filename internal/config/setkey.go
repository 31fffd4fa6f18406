package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// knownKeys are the dotted paths SetKey accepts.
var knownKeys = []string{
	"api_key",
	"stt.api_key", "stt.base_url", "stt.endpoint", "stt.model",
	"llm.api_key", "llm.base_url", "llm.endpoint", "llm.model",
	"vision.api_key", "vision.base_url", "vision.endpoint", "vision.model",
	"transcription.max_no_speech_prob",
	"analysis.workers", "analysis.stagger_ms",
	"report.embed_video",
	"keywords_file",
}

// SetKey updates one dotted key in the config file at path, creating
// the file from defaults when missing. Unknown keys fail with a
// did-you-mean suggestion.
func SetKey(path, key, value string) error {
	if !isKnownKey(key) {
		if suggestion := closestKey(key); suggestion != "" {
			return fmt.Errorf("config: unknown key %q (did you mean %q?)", key, suggestion)
		}
		return fmt.Errorf("config: unknown key %q", key)
	}

	if !fileExists(path) {
		if err := Init(path); err != nil {
			return err
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}

	setNested(doc, strings.Split(key, "."), coerce(value))

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

func isKnownKey(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// closestKey picks the known key with the smallest edit distance,
// provided the distance is small enough to be a plausible typo.
func closestKey(key string) string {
	best, bestDist := "", 4
	for _, k := range knownKeys {
		if d := matchr.DamerauLevenshtein(key, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func setNested(doc map[string]any, path []string, value any) {
	if len(path) == 1 {
		doc[path[0]] = value
		return
	}
	child, ok := doc[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		doc[path[0]] = child
	}
	setNested(child, path[1:], value)
}

// coerce keeps YAML scalars typed: bools and numbers round-trip as
// themselves instead of quoted strings.
func coerce(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
