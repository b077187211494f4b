package learning

import "time"

const (
	KindExplicit = "explicit"
	KindImplicit = "implicit"
)

// Signal is one normalized reward for the bandit and tone tracker.
type Signal struct {
	Kind    string  `json:"kind"`
	Success bool    `json:"success"`
	Weight  float64 `json:"weight"`
}

// ExplicitFeedback is a user rating of a past reply.
type ExplicitFeedback struct {
	Rating     int    `json:"rating"`
	TemplateID string `json:"template_id,omitempty"`
	Tone       string `json:"tone,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Payload is the feedback log representation.
func (f ExplicitFeedback) Payload() map[string]any {
	p := map[string]any{"kind": KindExplicit, "rating": f.Rating}
	if f.TemplateID != "" {
		p["template_id"] = f.TemplateID
	}
	if f.Tone != "" {
		p["tone"] = f.Tone
	}
	if f.Note != "" {
		p["note"] = f.Note
	}
	return p
}

// ExplicitSignal treats a positive rating as success. A neutral rating
// still counts, at a fifth of the weight.
func ExplicitSignal(f ExplicitFeedback) Signal {
	w := 1.0
	if f.Rating == 0 {
		w = 0.2
	}
	return Signal{Kind: KindExplicit, Success: f.Rating > 0, Weight: w}
}

// ImplicitSignal scores engagement from the time the user took to answer
// the previous reply.
func ImplicitSignal(elapsed time.Duration) Signal {
	switch {
	case elapsed <= time.Minute:
		return Signal{Kind: KindImplicit, Success: true, Weight: 0.35}
	case elapsed <= 7*time.Minute:
		return Signal{Kind: KindImplicit, Success: true, Weight: 0.20}
	case elapsed <= 20*time.Minute:
		return Signal{Kind: KindImplicit, Success: false, Weight: 0.15}
	default:
		return Signal{Kind: KindImplicit, Success: false, Weight: 0.25}
	}
}

// Reward is the signed weight fed to the tone tracker.
func (s Signal) Reward() float64 {
	if s.Success {
		return s.Weight
	}
	return -s.Weight
}
