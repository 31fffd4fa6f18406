package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Local models wrap JSON in markdown fences, leak chat-template control
// tokens, or prepend prose. The helpers below strip that noise so the
// embedded JSON payload still parses.

var controlTokenRe = regexp.MustCompile(`<\|[^|>]*\|>`)

// StripControlTokens removes chat-template markers such as <|im_end|>.
func StripControlTokens(s string) string {
	return controlTokenRe.ReplaceAllString(s, "")
}

// StripFences removes a surrounding markdown code fence, with or
// without a language tag. Text outside the fence is discarded.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	// Drop the language tag up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if len(first) <= 12 && !strings.ContainsAny(first, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ExtractLargestObject returns the largest balanced JSON object or
// array embedded in s, or "" when none exists. Braces inside string
// literals do not count toward balance.
func ExtractLargestObject(s string) string {
	var best string
	for i := 0; i < len(s); i++ {
		open := s[i]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchBalance(s, i); end > i {
			if cand := s[i : end+1]; len(cand) > len(best) {
				best = cand
			}
			i = end
		}
	}
	return best
}

// matchBalance returns the index of the byte closing the bracket at
// start, or -1 when the text is truncated before it closes.
func matchBalance(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// RepairParse unmarshals model output into out, tolerating fences,
// control tokens and surrounding prose. It tries the cleaned text
// first and falls back to the largest embedded JSON value.
func RepairParse(raw string, out any) error {
	cleaned := StripFences(StripControlTokens(raw))
	if cleaned == "" {
		return fmt.Errorf("repair parse: empty model output")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}
	if obj := ExtractLargestObject(cleaned); obj != "" {
		if err := json.Unmarshal([]byte(obj), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("repair parse: no valid JSON in model output")
}
