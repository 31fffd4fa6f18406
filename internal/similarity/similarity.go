// Package similarity implements the language-aware text similarity that
// drives finding deduplication.
//
// The score is a concept-weighted Jaccard over normalized word sets:
// both texts are lowercased, stripped of punctuation, stopword-filtered,
// Polish number words are mapped to digits and a small hand-authored Polish
// stem map is applied. When the two texts share at least two entries of a
// fixed key-concept vocabulary, the concept overlap dominates:
//
//	score = 0.6·|shared|/max(|c1|,|c2|) + 0.4·jaccard(words1, words2)
//
// otherwise the score is the plain Jaccard index.
//
// The dictionaries live in dictionaries.yaml, embedded at build time; the
// function is deterministic, symmetric, and bounded to [0, 1]. Replacing the
// dictionaries changes merging behaviour, so the data file is versioned with
// the code.
package similarity

import (
	"fmt"
	"strings"
	"unicode"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed dictionaries.yaml
var dictionariesYAML []byte

// shortTokenAllowlist lists tokens kept despite being shorter than three
// characters. Digits are always kept.
var shortTokenAllowlist = map[string]bool{"ui": true, "ux": true, "ai": true}

// dictionaries is the on-disk schema of dictionaries.yaml.
type dictionaries struct {
	Stopwords   []string          `yaml:"stopwords"`
	NumberWords map[string]string `yaml:"number_words"`
	Stems       map[string]string `yaml:"stems"`
	KeyConcepts []string          `yaml:"key_concepts"`
}

// Scorer computes similarity scores using a fixed set of dictionaries.
// It is read-only after construction and safe for concurrent use.
type Scorer struct {
	stopwords   map[string]bool
	numberWords map[string]string
	stems       map[string]string
	keyConcepts map[string]bool
}

// defaultScorer is built from the embedded dictionaries at package init.
var defaultScorer = mustLoad(dictionariesYAML)

// Default returns the package-level [Scorer] built from the embedded
// dictionaries.
func Default() *Scorer { return defaultScorer }

// Load parses dictionary data in the dictionaries.yaml format and returns a
// Scorer using it.
func Load(data []byte) (*Scorer, error) {
	var d dictionaries
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("similarity: parse dictionaries: %w", err)
	}
	s := &Scorer{
		stopwords:   make(map[string]bool, len(d.Stopwords)),
		numberWords: d.NumberWords,
		stems:       d.Stems,
		keyConcepts: make(map[string]bool, len(d.KeyConcepts)),
	}
	for _, w := range d.Stopwords {
		s.stopwords[w] = true
	}
	for _, c := range d.KeyConcepts {
		s.keyConcepts[c] = true
	}
	return s, nil
}

func mustLoad(data []byte) *Scorer {
	s, err := Load(data)
	if err != nil {
		panic(err)
	}
	return s
}

// Score returns the similarity of a and b in [0, 1]. Two empty (or
// all-stopword) texts score 0; identical non-empty texts score 1. The
// function is symmetric.
func (s *Scorer) Score(a, b string) float64 {
	wordsA := s.Normalize(a)
	wordsB := s.Normalize(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	conceptsA := s.concepts(wordsA)
	conceptsB := s.concepts(wordsB)
	shared := intersectCount(conceptsA, conceptsB)

	j := jaccard(wordsA, wordsB)
	if shared >= 2 {
		denom := max(len(conceptsA), len(conceptsB))
		return 0.6*float64(shared)/float64(denom) + 0.4*j
	}
	return j
}

// Score is shorthand for Default().Score.
func Score(a, b string) float64 { return defaultScorer.Score(a, b) }

// Normalize tokenizes text into the normalized word set used by [Score]:
// lowercased, punctuation stripped (digits kept), stopwords removed, number
// words mapped to digits, the stem map applied, and tokens shorter than
// three characters dropped unless allowlisted or numeric.
func (s *Scorer) Normalize(text string) map[string]bool {
	words := make(map[string]bool)
	for _, tok := range tokenize(text) {
		if s.stopwords[tok] {
			continue
		}
		if digit, ok := s.numberWords[tok]; ok {
			tok = digit
		}
		if stem, ok := s.stems[tok]; ok {
			tok = stem
		}
		if len([]rune(tok)) < 3 && !shortTokenAllowlist[tok] && !isDigits(tok) {
			continue
		}
		words[tok] = true
	}
	return words
}

// concepts returns the subset of words that belong to the key-concept
// vocabulary.
func (s *Scorer) concepts(words map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for w := range words {
		if s.keyConcepts[w] {
			out[w] = true
		}
	}
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter or
// digit.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func jaccard(a, b map[string]bool) float64 {
	inter := intersectCount(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func intersectCount(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}
