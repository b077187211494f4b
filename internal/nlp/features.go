package nlp

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/stellarlinkco/sentiencex/internal/locale"
)

// HashBuckets is the size of the hashed unigram and bigram spaces.
const HashBuckets = 64

// Features maps feature names to values.
type Features map[string]float64

var (
	negationWords    = locale.NewWordSet("not", "no", "never", "can't", "cant", "won't", "wont", "don't", "dont")
	apologyWords     = locale.NewWordSet("sorry", "apologize", "apologies", "my bad")
	firstPersonWords = locale.NewWordSet("i", "i'm", "im", "me", "my", "mine")
	secondPerson     = locale.NewWordSet("you", "you're", "youre", "your", "yours")

	urgentWords    = []string{"urgent", "asap", "now", "immediately"}
	selfHarmHints  = []string{"kill myself", "end my life", "hurt myself", "i want to die", "i should die"}
	profanityWords = []string{"fuck", "shit", "damn"}
)

// Extractor computes features against one locale bundle.
type Extractor struct {
	bundle *locale.Bundle
	seg    *Segmenter
}

func NewExtractor(b *locale.Bundle) *Extractor {
	return &Extractor{bundle: b, seg: NewSegmenter(b.Alphabet)}
}

// Tokens returns the lowercase tokens of text.
func (e *Extractor) Tokens(text string) []string {
	return LowerTokens(e.seg.Tokens(text))
}

// Extract maps text to its feature vector. The result depends only on the
// text and the bundle.
func (e *Extractor) Extract(text string) Features {
	lex := e.bundle.Lexicons
	lower := strings.ToLower(text)
	toks := e.Tokens(text)

	f := Features{"bias": 1}
	f["len_chars"] = float64(len([]rune(text)))
	f["len_tokens"] = float64(len(toks))
	f["qmarks"] = float64(strings.Count(text, "?"))
	f["emarks"] = float64(strings.Count(text, "!"))
	f["ellipses"] = float64(strings.Count(text, "..."))
	f["newlines"] = float64(strings.Count(text, "\n"))

	var caps, letters int
	for _, r := range text {
		if unicode.IsUpper(r) {
			caps++
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	f["caps_ratio"] = float64(caps) / float64(max(1, letters))

	f["negations"] = float64(countIn(toks, negationWords))
	f["apology"] = float64(countIn(toks, apologyWords))
	f["first_person"] = float64(countIn(toks, firstPersonWords))
	f["second_person"] = float64(countIn(toks, secondPerson))

	f["pos_hits"] = float64(countIn(toks, lex.SentimentPos))
	f["neg_hits"] = float64(countIn(toks, lex.SentimentNeg))
	f["hedging_hits"] = float64(CountPhrases(lower, lex.Hedging))
	f["minimizer_hits"] = float64(CountPhrases(lower, lex.Minimizers))
	f["masking_hits"] = float64(CountPhrases(lower, lex.MaskingMarkers))
	f["distress_hits"] = float64(CountPhrases(lower, lex.DistressTopics))
	f["threat_hits"] = float64(CountPhrases(lower, lex.Threat))
	f["sarcasm_hits"] = float64(CountPhrases(lower, lex.Sarcasm))

	f["contains_quote"] = boolFeature(strings.ContainsAny(text, `"'`))
	f["contains_but"] = boolFeature(ContainsPhrase(lower, "but"))
	f["contains_and"] = boolFeature(ContainsPhrase(lower, "and"))

	for _, ng := range Ngrams(toks, 2) {
		f["bg_"+strconv.Itoa(bucket(ng[0]+" "+ng[1]))]++
	}
	for _, t := range toks {
		f["ug_"+strconv.Itoa(bucket(t))]++
	}

	f["log_len_tokens"] = math.Log1p(f["len_tokens"])
	f["log_len_chars"] = math.Log1p(f["len_chars"])
	f["punct_intensity"] = math.Min(3, f["qmarks"]+f["emarks"]+f["ellipses"])
	f["urgent_words"] = float64(countPhrases(lower, urgentWords))
	f["self_harm_phrase"] = boolFeature(countPhrases(lower, selfHarmHints) > 0)
	f["please"] = boolFeature(ContainsPhrase(lower, "please"))
	f["thanks"] = boolFeature(ContainsPhrase(lower, "thank"))
	f["profanity"] = float64(countPhrases(lower, profanityWords))
	return f
}

// bucket hashes a key with 32-bit FNV-1a so ids are stable across runs.
func bucket(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % HashBuckets)
}

func countIn(tokens []string, set locale.WordSet) int {
	n := 0
	for _, t := range tokens {
		if set.Has(t) {
			n++
		}
	}
	return n
}

func countPhrases(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if ContainsPhrase(lower, p) {
			n++
		}
	}
	return n
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
