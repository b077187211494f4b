// Package cognition turns features and classifier outputs into the
// per-message Inference Snapshot.
package cognition

import (
	"math"
	"sort"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

type HiddenResult struct {
	DistressScore float64  `json:"distress_score"`
	Reasons       []string `json:"reasons"`
}

// HiddenDistress scores distress that the surface wording may not show.
func HiddenDistress(f nlp.Features, priors artifact.Priors) HiddenResult {
	var (
		score   float64
		reasons []string
	)
	pos, neg := f["pos_hits"], f["neg_hits"]
	distress, masking := f["distress_hits"], f["masking_hits"]
	minim, hedge, ell := f["minimizer_hits"], f["hedging_hits"], f["ellipses"]

	if distress > 0 {
		score += math.Min(0.55, 0.18*distress+0.25)
		reasons = append(reasons, "distress_topic")
	}
	if pos > 0 && (neg > 0 || distress > 0) {
		score += 0.18
		reasons = append(reasons, "positive_negative_mismatch")
	}
	if masking > 0 {
		score += math.Min(0.22, 0.12*masking)
		reasons = append(reasons, "masking_markers")
	}
	if minim > 0 {
		score += math.Min(0.18, 0.10*minim)
		reasons = append(reasons, "minimization")
	}
	if hedge > 0 {
		score += math.Min(0.12, 0.06*hedge)
		reasons = append(reasons, "hedging")
	}
	if ell > 0 {
		score += math.Min(0.10, 0.06*ell)
		reasons = append(reasons, "ellipsis_hesitation")
	}
	if neg > 0 {
		score += math.Min(0.25, 0.08*neg)
		reasons = append(reasons, "negative_words")
	}
	// Only a prior above the 0.45 baseline nudges the score.
	if masking > 0 {
		if boost := (priors.HiddenDistressGivenMasking - 0.45) * 0.35; boost > 0 {
			score += math.Min(0.12, boost)
			reasons = append(reasons, "learned_masking_prior")
		}
	}
	return HiddenResult{DistressScore: clip01(score), Reasons: sortedUnique(reasons)}
}

type MaskingResult struct {
	IsMasking  bool     `json:"is_masking"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// MaskingThreshold flags masking.
const MaskingThreshold = 0.55

// Masking scores linguistic markers of downplayed distress.
func Masking(f nlp.Features, priors artifact.Priors) MaskingResult {
	var (
		score   float64
		reasons []string
	)
	masking, minim, hedge := f["masking_hits"], f["minimizer_hits"], f["hedging_hits"]

	if masking > 0 {
		score += math.Min(0.60, 0.25+0.15*masking)
		reasons = append(reasons, "masking_markers")
	}
	if minim > 0 {
		score += math.Min(0.22, 0.10*minim)
		reasons = append(reasons, "minimizers")
	}
	if hedge > 0 {
		score += math.Min(0.15, 0.07*hedge)
		reasons = append(reasons, "hedging")
	}
	if f["neg_hits"] > 0 || f["distress_hits"] > 0 {
		score += 0.10
		reasons = append(reasons, "negative_context")
	}
	if masking > 0 && priors.MaskingPattern >= 0.60 {
		score += 0.06
		reasons = append(reasons, "learned_masking_pattern")
	}
	score = clip01(score)
	return MaskingResult{IsMasking: score >= MaskingThreshold, Confidence: score, Reasons: sortedUnique(reasons)}
}

func clip01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func sortedUnique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
