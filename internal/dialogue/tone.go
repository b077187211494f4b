package dialogue

import (
	"fmt"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/cognition"
	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

// ToneConfig holds the tone thresholds.
type ToneConfig struct {
	ThreatThreshold   float64
	DistressThreshold float64
	PreferenceWeight  float64
}

// DistressBucket coarsens hidden distress for the policy prior key.
func DistressBucket(d float64) int {
	switch {
	case d >= 0.75:
		return 3
	case d >= 0.62:
		return 2
	case d >= 0.35:
		return 1
	default:
		return 0
	}
}

func PriorKey(intent, sentiment string, bucket int) string {
	return fmt.Sprintf("intent=%s|sent=%s|hb=%d", intent, sentiment, bucket)
}

// ChooseTone returns safety for a confident threat; otherwise it scores
// normal against empathy and returns the winner with the scores. Ties go
// to normal.
func ChooseTone(s *cognition.Snapshot, priors artifact.Priors, pref *learning.TonePreference, cfg ToneConfig) (string, map[string]float64) {
	if (s.Threat.Label == nlp.ThreatSelfHarm || s.Threat.Label == nlp.ThreatThreat) && s.Threat.Confidence >= cfg.ThreatThreshold {
		return locale.ToneSafety, nil
	}

	distress := s.Hidden.DistressScore
	scores := map[string]float64{locale.ToneNormal: 0, locale.ToneEmpathy: 0}
	if distress >= cfg.DistressThreshold {
		scores[locale.ToneEmpathy] += 0.85
	}
	if s.Sentiment.Label == "neg" && s.Sentiment.Confidence >= 0.50 {
		scores[locale.ToneEmpathy] += 0.45
	}
	if s.Sentiment.Label == "pos" && distress < 0.35 {
		scores[locale.ToneNormal] += 0.25
	}

	key := PriorKey(s.Intent.Label, s.Sentiment.Label, DistressBucket(distress))
	for tone, b := range priors.PolicyBias(key) {
		if _, ok := scores[tone]; ok {
			scores[tone] += b
		}
	}
	if pref != nil {
		adjusted := pref.Adjust(scores, cfg.PreferenceWeight)
		for tone := range scores {
			scores[tone] = adjusted[tone]
		}
	}

	if scores[locale.ToneEmpathy] > scores[locale.ToneNormal] {
		return locale.ToneEmpathy, scores
	}
	return locale.ToneNormal, scores
}
