// Package prompts holds the model prompt texts, keyed by role, language
// and whether a frame accompanies the request. Model behavior is
// prompt-conditioned, so the exact wording lives here as versioned data
// rather than being assembled inline by callers.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

// Role selects which pipeline step the prompt serves.
type Role string

const (
	Prefilter        Role = "prefilter"
	SemanticAnalysis Role = "semantic_analysis"
	VisionAnalysis   Role = "vision_analysis"
	UnifiedAnalysis  Role = "unified_analysis"
	ExecutiveSummary Role = "executive_summary"
)

//go:embed texts/*.txt
var textFS embed.FS

// Get returns the prompt for role in the given language. hasImage picks
// the frame-aware variant where one exists (unified analysis). Unknown
// languages fall back to English; a missing role panics, since every
// role constant above has embedded texts.
func Get(role Role, language string, hasImage bool) string {
	name := string(role)
	if role == UnifiedAnalysis && !hasImage {
		name = "unified_analysis_text"
	}
	lang := normalizeLang(language)
	if text, ok := read(name, lang); ok {
		return text
	}
	if text, ok := read(name, "en"); ok {
		return text
	}
	panic(fmt.Sprintf("prompts: no text for role %q", role))
}

func read(name, lang string) (string, bool) {
	b, err := textFS.ReadFile(fmt.Sprintf("texts/%s_%s.txt", name, lang))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func normalizeLang(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if len(l) > 2 {
		l = l[:2]
	}
	return l
}
