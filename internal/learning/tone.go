package learning

import "github.com/stellarlinkco/sentiencex/internal/locale"

const toneAlpha = 0.12

// TonePreference tracks an EMA of signed reward per tone.
type TonePreference struct {
	Scores map[string]float64 `json:"scores"`
}

func NewTonePreference() *TonePreference {
	p := &TonePreference{Scores: make(map[string]float64, len(locale.ToneGroups))}
	for _, tone := range locale.ToneGroups {
		p.Scores[tone] = 0
	}
	return p
}

func (p *TonePreference) Update(tone string, reward float64) {
	p.Scores[tone] = (1-toneAlpha)*p.Scores[tone] + toneAlpha*reward
}

func (p *TonePreference) Score(tone string) float64 { return p.Scores[tone] }

// Adjust adds weight times each tone preference to base and returns a new
// map.
func (p *TonePreference) Adjust(base map[string]float64, weight float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(p.Scores))
	for k, v := range base {
		out[k] = v
	}
	for tone, pref := range p.Scores {
		out[tone] += weight * pref
	}
	return out
}
