package cognition

import (
	"regexp"
	"strings"

	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

// Claim is a coarse first-person fact extracted from text.
type Claim struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Polarity   int     `json:"polarity"`
	Confidence float64 `json:"confidence"`
}

var spaceRun = regexp.MustCompile(`\s+`)

func normClaimText(s string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

type claimPattern struct {
	re         *regexp.Regexp
	key        string
	polarity   int
	confidence float64
}

var claimPatterns = []claimPattern{
	{regexp.MustCompile(`\b(i am|i'm|im)\s+([a-z][a-z '\-]{1,48})`), "i_am", +1, 0.70},
	{regexp.MustCompile(`\b(i am not|i'm not|im not)\s+([a-z][a-z '\-]{1,48})`), "i_am", -1, 0.70},
	{regexp.MustCompile(`\b(i have|i've|ive)\s+([a-z][a-z '\-]{1,60})`), "i_have", +1, 0.65},
	{regexp.MustCompile(`\b(i don't have|i do not have|i havent|i haven't)\s+([a-z][a-z '\-]{1,60})`), "i_have", -1, 0.65},
	{regexp.MustCompile(`\b(i like|i love)\s+([a-z][a-z '\-]{1,60})`), "i_like", +1, 0.60},
	{regexp.MustCompile(`\b(i hate)\s+([a-z][a-z '\-]{1,60})`), "i_like", -1, 0.60},
}

// "i can" must not fire on "i can't".
var canPositive = regexp.MustCompile(`\bi can(?:$|[^a-z'’])`)

// ExtractClaims detects identity, possession, preference and
// capability/intention statements. Claims are unique by key, value and
// polarity.
func ExtractClaims(text string) []Claim {
	tl := normClaimText(text)
	var claims []Claim
	seen := make(map[Claim]struct{})
	add := func(key, value string, polarity int, conf float64) {
		key, value = normClaimText(key), normClaimText(value)
		if key == "" || value == "" {
			return
		}
		id := Claim{Key: key, Value: value, Polarity: polarity}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		claims = append(claims, Claim{Key: key, Value: value, Polarity: polarity, Confidence: conf})
	}

	for _, p := range claimPatterns {
		if m := p.re.FindStringSubmatch(tl); m != nil {
			add(p.key, m[2], p.polarity, p.confidence)
		}
	}

	if nlp.ContainsPhrase(tl, "i can't") || nlp.ContainsPhrase(tl, "i cant") {
		add("i_can", "do_it", -1, 0.55)
	}
	if canPositive.MatchString(tl) {
		add("i_can", "do_it", +1, 0.45)
	}
	if nlp.ContainsPhrase(tl, "i won't") || nlp.ContainsPhrase(tl, "i wont") {
		add("i_will", "do_it", -1, 0.55)
	}
	if nlp.ContainsPhrase(tl, "i will") {
		add("i_will", "do_it", +1, 0.45)
	}
	return claims
}

// Contradiction is the strongest clash between new claims and known facts.
type Contradiction struct {
	Score         float64 `json:"score"`
	Contradictory bool    `json:"contradictory"`
	Key           string  `json:"key,omitempty"`
	Note          string  `json:"note,omitempty"`
}

// ContradictionThreshold flags a contradiction.
const ContradictionThreshold = 0.60

var exclusiveKeys = map[string]bool{"i_am": true, "i_have": true, "i_like": true}

// ContradictionScore compares newly extracted claims with known facts. An
// opposite polarity on the same value scores high; a different positive
// value on an identity, possession or preference key scores low.
func ContradictionScore(newClaims, known []Claim) Contradiction {
	var best Contradiction
	for _, nc := range newClaims {
		for _, kf := range known {
			if nc.Key != kf.Key {
				continue
			}
			conf := min(nc.Confidence, kf.Confidence)
			switch {
			case nc.Value == kf.Value && nc.Polarity != kf.Polarity:
				if s := min(1, 0.55+0.45*conf); s > best.Score {
					best = Contradiction{Score: s, Key: nc.Key, Note: "polarity_flip_same_value"}
				}
			case exclusiveKeys[nc.Key] && nc.Polarity > 0 && kf.Polarity > 0 && nc.Value != kf.Value:
				if s := 0.25 * conf; s > best.Score {
					best = Contradiction{Score: s, Key: nc.Key, Note: "different_value_same_key"}
				}
			}
		}
	}
	best.Contradictory = best.Score >= ContradictionThreshold
	return best
}
