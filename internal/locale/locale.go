// Package locale loads the immutable lexicon and template bundle that the
// rest of the core is parameterised by.
package locale

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// DefaultName is the locale shipped inside the binary.
const DefaultName = "en"

//go:embed packs
var packs embed.FS

// ErrInvalidBundle marks a missing or malformed locale bundle. It is fatal at
// startup.
var ErrInvalidBundle = errors.New("invalid locale bundle")

// Tone groups a reply template belongs to.
const (
	ToneNormal    = "normal"
	ToneEmpathy   = "empathy"
	ToneAckShort  = "ack_short"
	ToneProactive = "proactive"
	ToneSafety    = "safety"
)

// ToneGroups lists every template group a bundle must provide.
var ToneGroups = []string{ToneNormal, ToneEmpathy, ToneAckShort, ToneProactive, ToneSafety}

// Lexicon names under lexicons/.
const (
	LexSentimentPos   = "sentiment_pos"
	LexSentimentNeg   = "sentiment_neg"
	LexThreat         = "threat"
	LexSarcasm        = "sarcasm"
	LexHedging        = "hedging"
	LexMinimizers     = "minimizers"
	LexMaskingMarkers = "masking_markers"
	LexDistressTopics = "distress_topics"
)

var lexiconNames = []string{
	LexSentimentPos, LexSentimentNeg, LexThreat, LexSarcasm,
	LexHedging, LexMinimizers, LexMaskingMarkers, LexDistressTopics,
}

// Bundle is one loaded locale pack. It is never mutated after Load.
type Bundle struct {
	Name          string
	Alphabet      Alphabet
	Rules         []Rule
	Abbreviations WordSet
	Lexicons      Lexicons
	Templates     map[string][]Template
	Style         StyleRules
}

// Rule is one ordered normalisation rewrite.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Template is a reply skeleton with {reflect} and {topic} slots.
type Template struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Brevity []string `json:"brevity"`
	Tone    string   `json:"tone"`
}

// Allows reports whether the template is written for the given brevity.
// Templates without an explicit list count as "normal".
func (t Template) Allows(brevity string) bool {
	if len(t.Brevity) == 0 {
		return brevity == "normal"
	}
	for _, b := range t.Brevity {
		if b == brevity {
			return true
		}
	}
	return false
}

// StyleRules are the locale's reply-shaping thresholds.
type StyleRules struct {
	MaxSentencesMicro   int `yaml:"max_sentences_micro"`
	MaxSentencesShort   int `yaml:"max_sentences_short"`
	MaxSentencesNormal  int `yaml:"max_sentences_normal"`
	MaxEmojisPerReply   int `yaml:"max_emojis_per_reply"`
	AdviceCooldownTurns int `yaml:"advice_cooldown_turns"`
}

// MaxSentences returns the sentence cap for a brevity level.
func (r StyleRules) MaxSentences(brevity string) int {
	switch brevity {
	case "micro":
		return r.MaxSentencesMicro
	case "short":
		return r.MaxSentencesShort
	case "normal":
		return r.MaxSentencesNormal
	}
	return 3
}

func defaultStyleRules() StyleRules {
	return StyleRules{
		MaxSentencesMicro:   1,
		MaxSentencesShort:   2,
		MaxSentencesNormal:  5,
		MaxEmojisPerReply:   0,
		AdviceCooldownTurns: 2,
	}
}

// Lexicons holds the lowercase word and phrase lists of a bundle.
type Lexicons struct {
	SentimentPos   WordSet
	SentimentNeg   WordSet
	Threat         WordSet
	Sarcasm        WordSet
	Hedging        WordSet
	Minimizers     WordSet
	MaskingMarkers WordSet
	DistressTopics WordSet
}

// WordSet is a set of lowercase words or phrases.
type WordSet map[string]struct{}

// NewWordSet builds a set from the given entries, lowercased and trimmed.
func NewWordSet(words ...string) WordSet {
	ws := make(WordSet, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			ws[w] = struct{}{}
		}
	}
	return ws
}

func (ws WordSet) Has(w string) bool {
	_, ok := ws[w]
	return ok
}

// Sorted returns the entries in lexicographic order so iteration is stable.
func (ws WordSet) Sorted() []string {
	out := make([]string, 0, len(ws))
	for w := range ws {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Alphabet decides which runes survive segmentation. An empty alphabet
// accepts everything.
type Alphabet struct {
	Classes []string `yaml:"classes"`
	Extra   string   `yaml:"extra"`

	tables []*unicode.RangeTable
	extra  map[rune]struct{}
}

var classTables = map[string][]*unicode.RangeTable{
	"letter": {unicode.Letter},
	"digit":  {unicode.Digit},
	"number": {unicode.Number},
	"space":  {unicode.White_Space},
	"punct":  {unicode.Punct},
	"symbol": {unicode.Symbol},
	"mark":   {unicode.Mark},
}

func (a *Alphabet) compile() error {
	a.tables = nil
	for _, c := range a.Classes {
		tables, ok := classTables[strings.ToLower(strings.TrimSpace(c))]
		if !ok {
			return fmt.Errorf("%w: unknown alphabet class %q", ErrInvalidBundle, c)
		}
		a.tables = append(a.tables, tables...)
	}
	a.extra = make(map[rune]struct{}, len(a.Extra))
	for _, r := range a.Extra {
		a.extra[r] = struct{}{}
	}
	return nil
}

// Allows reports whether r belongs to the alphabet.
func (a Alphabet) Allows(r rune) bool {
	if len(a.tables) == 0 && len(a.extra) == 0 {
		return true
	}
	if _, ok := a.extra[r]; ok {
		return true
	}
	return unicode.IsOneOf(a.tables, r)
}

type manifest struct {
	Name          string     `yaml:"name"`
	Alphabet      Alphabet   `yaml:"alphabet"`
	Abbreviations []string   `yaml:"abbreviations"`
	Normalize     []ruleSpec `yaml:"normalize"`
	StyleRules    StyleRules `yaml:"style_rules"`
}

type ruleSpec struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// LoadDefault loads the embedded pack named name.
func LoadDefault(name string) (*Bundle, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	sub, err := fs.Sub(packs, path.Join("packs", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if _, err := fs.Stat(sub, "locale.yaml"); err != nil {
		return nil, fmt.Errorf("%w: locale %q not embedded", ErrInvalidBundle, name)
	}
	return LoadFS(sub)
}

// Load reads a pack from a directory on disk.
func Load(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %q: %v", ErrInvalidBundle, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidBundle, dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads a pack rooted at fsys.
func LoadFS(fsys fs.FS) (*Bundle, error) {
	raw, err := fs.ReadFile(fsys, "locale.yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrInvalidBundle, err)
	}
	m := manifest{StyleRules: defaultStyleRules()}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrInvalidBundle, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%w: manifest missing name", ErrInvalidBundle)
	}
	if err := m.Alphabet.compile(); err != nil {
		return nil, err
	}

	b := &Bundle{
		Name:          m.Name,
		Alphabet:      m.Alphabet,
		Abbreviations: make(WordSet, len(m.Abbreviations)),
		Templates:     make(map[string][]Template, len(ToneGroups)),
		Style:         m.StyleRules,
	}
	// Abbreviations keep their case: sentence splitting compares raw tokens.
	for _, a := range m.Abbreviations {
		if a = strings.TrimSpace(a); a != "" {
			b.Abbreviations[a] = struct{}{}
		}
	}
	for i, spec := range m.Normalize {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: normalize rule %d: %v", ErrInvalidBundle, i, err)
		}
		b.Rules = append(b.Rules, Rule{Pattern: re, Replace: spec.Replace})
	}

	lex := make(map[string]WordSet, len(lexiconNames))
	for _, name := range lexiconNames {
		ws, err := readWordSet(fsys, path.Join("lexicons", name+".txt"))
		if err != nil {
			return nil, err
		}
		lex[name] = ws
	}
	b.Lexicons = Lexicons{
		SentimentPos:   lex[LexSentimentPos],
		SentimentNeg:   lex[LexSentimentNeg],
		Threat:         lex[LexThreat],
		Sarcasm:        lex[LexSarcasm],
		Hedging:        lex[LexHedging],
		Minimizers:     lex[LexMinimizers],
		MaskingMarkers: lex[LexMaskingMarkers],
		DistressTopics: lex[LexDistressTopics],
	}

	for _, group := range ToneGroups {
		tpls, err := readTemplates(fsys, group)
		if err != nil {
			return nil, err
		}
		b.Templates[group] = tpls
	}
	if len(b.Templates[ToneNormal]) == 0 {
		return nil, fmt.Errorf("%w: normal template group is empty", ErrInvalidBundle)
	}
	return b, nil
}

func readLines(fsys fs.FS, name string) ([]string, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidBundle, name, err)
	}
	var lines []string
	for _, ln := range strings.Split(string(raw), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		lines = append(lines, ln)
	}
	return lines, nil
}

func readWordSet(fsys fs.FS, name string) (WordSet, error) {
	lines, err := readLines(fsys, name)
	if err != nil {
		return nil, err
	}
	return NewWordSet(lines...), nil
}

func readTemplates(fsys fs.FS, group string) ([]Template, error) {
	name := path.Join("templates", group+".json")
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidBundle, name, err)
	}
	var tpls []Template
	if err := json.Unmarshal(raw, &tpls); err != nil {
		return nil, fmt.Errorf("%w: %s must be a JSON list: %v", ErrInvalidBundle, name, err)
	}
	seen := make(map[string]struct{}, len(tpls))
	for i := range tpls {
		if strings.TrimSpace(tpls[i].ID) == "" {
			return nil, fmt.Errorf("%w: %s entry %d has no id", ErrInvalidBundle, name, i)
		}
		if _, dup := seen[tpls[i].ID]; dup {
			return nil, fmt.Errorf("%w: duplicate template id %q in %s", ErrInvalidBundle, tpls[i].ID, name)
		}
		seen[tpls[i].ID] = struct{}{}
		if tpls[i].Tone == "" {
			tpls[i].Tone = group
		}
	}
	return tpls, nil
}

// Group returns the templates of a tone group, falling back to normal.
func (b *Bundle) Group(tone string) []Template {
	if tpls, ok := b.Templates[tone]; ok && len(tpls) > 0 {
		return tpls
	}
	return b.Templates[ToneNormal]
}
