package style

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stellarlinkco/sentiencex/internal/locale"
)

// Reply lengths.
const (
	BrevityMicro  = "micro"
	BrevityShort  = "short"
	BrevityNormal = "normal"
)

const indirectBelow = 0.35

var (
	multiSpace  = regexp.MustCompile(`[ \t]{2,}`)
	emojiRunsRE = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]+`)
	hedgedOpen  = []string{"maybe", "i think", "it might"}
)

// Shaper enforces the locale style rules on composed replies.
type Shaper struct {
	rules    locale.StyleRules
	maxChars int
}

func NewShaper(rules locale.StyleRules, maxChars int) *Shaper {
	if maxChars <= 0 {
		maxChars = 800
	}
	return &Shaper{rules: rules, maxChars: maxChars}
}

// Shape collapses spacing, cuts to the character budget, strips emoji when
// none are allowed, clips to the brevity's sentence cap and softens the
// opening for users who write indirectly.
func (s *Shaper) Shape(p *Profile, text, brevity string) string {
	out := multiSpace.ReplaceAllString(strings.TrimSpace(text), " ")
	out = strings.TrimRightFunc(truncateRunes(out, s.maxChars), unicode.IsSpace)

	if s.rules.MaxEmojisPerReply == 0 {
		out = emojiRunsRE.ReplaceAllString(out, "")
	}

	if limit := s.rules.MaxSentences(brevity); sentenceCount(out) > limit {
		out = clipSentences(out, limit)
	}

	if p != nil && p.Directness < indirectBelow && brevity != BrevityMicro && out != "" && !hasHedgedOpen(out) {
		r, size := utf8.DecodeRuneInString(out)
		out = "Maybe " + string(unicode.ToLower(r)) + out[size:]
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func sentenceCount(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	return max(1, strings.Count(s, ".")+strings.Count(s, "!")+strings.Count(s, "?"))
}

// clipSentences keeps text up to and including the limit-th terminator.
func clipSentences(s string, limit int) string {
	count := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= limit {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}
	return strings.TrimSpace(s)
}

func hasHedgedOpen(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range hedgedOpen {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
