// Package nlp holds the text primitives, the feature extractor and the
// linear classifiers used by the inference pipeline.
package nlp

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stellarlinkco/sentiencex/internal/locale"
)

// SegmentKind classifies a run of characters.
type SegmentKind int

const (
	SegmentWord SegmentKind = iota
	SegmentPunct
	SegmentSpace
)

type Segment struct {
	Text string
	Kind SegmentKind
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '\'' || r == '’' || r == '_'
}

// Segmenter splits text into word, punctuation and space runs, dropping
// runes outside the locale alphabet.
type Segmenter struct {
	alphabet locale.Alphabet
}

func NewSegmenter(alphabet locale.Alphabet) *Segmenter {
	return &Segmenter{alphabet: alphabet}
}

func (s *Segmenter) Segments(text string) []Segment {
	var (
		segs   []Segment
		buf    strings.Builder
		isWord bool
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		kind := SegmentPunct
		if isWord {
			kind = SegmentWord
		}
		segs = append(segs, Segment{Text: buf.String(), Kind: kind})
		buf.Reset()
	}

	for _, r := range text {
		if !s.alphabet.Allows(r) {
			continue
		}
		if unicode.IsSpace(r) {
			flush()
			segs = append(segs, Segment{Text: string(r), Kind: SegmentSpace})
			continue
		}
		w := isWordRune(r)
		if buf.Len() > 0 && w != isWord {
			flush()
		}
		if buf.Len() == 0 {
			isWord = w
		}
		buf.WriteRune(r)
	}
	flush()
	return segs
}

// Tokens returns the word segments of text.
func (s *Segmenter) Tokens(text string) []string {
	var toks []string
	for _, seg := range s.Segments(text) {
		if seg.Kind != SegmentWord {
			continue
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			toks = append(toks, t)
		}
	}
	return toks
}

// LowerTokens lowercases every token into a new slice.
func LowerTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

// Normalizer applies the locale rewrite rules in order, then trims.
type Normalizer struct {
	rules []locale.Rule
}

func NewNormalizer(rules []locale.Rule) *Normalizer {
	return &Normalizer{rules: rules}
}

func (n *Normalizer) Normalize(text string) string {
	out := text
	for _, r := range n.rules {
		out = r.Pattern.ReplaceAllString(out, r.Replace)
	}
	return strings.TrimSpace(out)
}

var sentenceEnd = regexp.MustCompile(`([.!?]+)(\s+)`)

// SplitSentences splits on terminal punctuation followed by whitespace,
// unless the candidate sentence ends in a known abbreviation.
func SplitSentences(text string, abbreviations locale.WordSet) []string {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	var (
		parts []string
		start int
	)
	for _, m := range sentenceEnd.FindAllStringSubmatchIndex(s, -1) {
		candidate := strings.TrimSpace(s[start:m[3]])
		if candidate == "" {
			continue
		}
		fields := strings.Fields(candidate)
		if abbreviations.Has(fields[len(fields)-1]) {
			continue
		}
		parts = append(parts, candidate)
		start = m[1]
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// ContainsPhrase reports whether the first occurrence of phrase in
// lowerText is bounded by non-alphanumeric runes on both sides.
func ContainsPhrase(lowerText, phrase string) bool {
	p := strings.ToLower(phrase)
	if p == "" {
		return false
	}
	idx := strings.Index(lowerText, p)
	if idx < 0 {
		return false
	}
	if idx > 0 {
		r, _ := utf8.DecodeLastRuneInString(lowerText[:idx])
		if isAlnum(r) {
			return false
		}
	}
	if end := idx + len(p); end < len(lowerText) {
		r, _ := utf8.DecodeRuneInString(lowerText[end:])
		if isAlnum(r) {
			return false
		}
	}
	return true
}

// CountPhrases counts how many phrases of the set occur in lowerText.
func CountPhrases(lowerText string, phrases locale.WordSet) int {
	n := 0
	for p := range phrases {
		if ContainsPhrase(lowerText, p) {
			n++
		}
	}
	return n
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Ngrams returns the n-length windows over tokens.
func Ngrams(tokens []string, n int) [][]string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	out := make([][]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, tokens[i:i+n])
	}
	return out
}
