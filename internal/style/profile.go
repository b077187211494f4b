// Package style tracks how the user writes and shapes replies to match.
package style

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

// ProfileFile is the style snapshot inside the data directory.
const ProfileFile = "style.json"

var emojiRE = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]`)

// Signals are the per-message style observations.
type Signals struct {
	Tokens    int
	Emojis    int
	Exclaims  int
	Questions int
	Hedges    int
}

// ExtractSignals reads style signals from a message.
func ExtractSignals(x *nlp.Extractor, text string) Signals {
	f := x.Extract(text)
	return Signals{
		Tokens:    len(x.Tokens(text)),
		Emojis:    len(emojiRE.FindAllString(text, -1)),
		Exclaims:  int(f["emarks"]),
		Questions: int(f["qmarks"]),
		Hedges:    int(f["hedging_hits"]),
	}
}

// Profile is a rolling EMA of the user's writing habits. Directness runs
// from 0 (hedged) to 1 (direct).
type Profile struct {
	AvgTokens    float64 `json:"avg_tokens"`
	EmojiRate    float64 `json:"emoji_rate"`
	ExclaimRate  float64 `json:"exclaim_rate"`
	QuestionRate float64 `json:"question_rate"`
	HedgingRate  float64 `json:"hedging_rate"`
	Directness   float64 `json:"directness"`
}

func NewProfile() *Profile {
	return &Profile{AvgTokens: 10, Directness: 0.5}
}

func (p *Profile) Update(s Signals) {
	p.AvgTokens = ema(p.AvgTokens, float64(s.Tokens), 0.18)
	p.EmojiRate = ema(p.EmojiRate, indicator(s.Emojis), 0.10)
	p.ExclaimRate = ema(p.ExclaimRate, indicator(s.Exclaims), 0.10)
	p.QuestionRate = ema(p.QuestionRate, indicator(s.Questions), 0.10)
	p.HedgingRate = ema(p.HedgingRate, indicator(s.Hedges), 0.12)
	p.Directness = ema(p.Directness, 1-indicator(s.Hedges), 0.12)
}

func indicator(n int) float64 {
	if n > 0 {
		return 1
	}
	return 0
}

func ema(prev, x, alpha float64) float64 {
	return (1-alpha)*prev + alpha*x
}

// LoadProfile reads a profile; a missing file yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := NewProfile()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read style: %w", err)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return NewProfile(), fmt.Errorf("parse style: %w", err)
	}
	return p, nil
}

func (p *Profile) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode style: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write style: %w", err)
	}
	return nil
}
