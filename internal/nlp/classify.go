package nlp

import "strings"

type SentimentResult struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Score      float64            `json:"score"`
	Probs      map[string]float64 `json:"-"`
}

// Sentiment interprets a pos/neu/neg prediction; Score is 2*(p_pos-p_neg).
func Sentiment(p Prediction) SentimentResult {
	return SentimentResult{
		Label:      p.Label,
		Confidence: p.Confidence,
		Score:      (p.Probs["pos"] - p.Probs["neg"]) * 2,
		Probs:      p.Probs,
	}
}

type SarcasmResult struct {
	IsSarcastic bool    `json:"is_sarcastic"`
	Confidence  float64 `json:"confidence"`
}

func Sarcasm(p Prediction) SarcasmResult {
	return SarcasmResult{IsSarcastic: p.Label == "sarcastic", Confidence: p.Confidence}
}

// Threat labels.
const (
	ThreatNone     = "none"
	ThreatThreat   = "threat"
	ThreatSelfHarm = "self_harm"
)

type ThreatResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	RuleHit    bool    `json:"rule_hit"`
}

// Active reports a self-harm or threat label regardless of confidence.
func (r ThreatResult) Active() bool {
	return r.Label == ThreatSelfHarm || r.Label == ThreatThreat
}

var (
	selfHarmRules = []string{"kill myself", "end my life", "i want to die", "hurt myself"}
	threatRules   = []string{"kill you", "hurt you", "shoot", "stab", "attack"}
)

// ClassifyThreat combines the statistical prediction with literal phrase
// rules. A rule hit forces the label and floors the confidence.
func ClassifyThreat(text string, p Prediction) ThreatResult {
	lower := strings.ToLower(text)
	self := countPhrases(lower, selfHarmRules) > 0
	aggr := countPhrases(lower, threatRules) > 0

	r := ThreatResult{Label: p.Label, Confidence: p.Confidence, RuleHit: self || aggr}
	switch {
	case self:
		r.Label = ThreatSelfHarm
		r.Confidence = max(r.Confidence, 0.90)
	case aggr:
		r.Label = ThreatThreat
		r.Confidence = max(r.Confidence, 0.85)
	}
	return r
}
