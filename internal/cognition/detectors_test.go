package cognition

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHiddenDistress(t *testing.T) {
	tests := []struct {
		name    string
		feats   nlp.Features
		priors  artifact.Priors
		want    float64
		reasons []string
	}{
		{"empty", nlp.Features{}, artifact.Priors{}, 0, []string{}},
		{"topic", nlp.Features{"distress_hits": 1}, artifact.Priors{}, 0.43, []string{"distress_topic"}},
		{
			"mismatch",
			nlp.Features{"pos_hits": 1, "neg_hits": 1},
			artifact.Priors{},
			0.18 + 0.08,
			[]string{"negative_words", "positive_negative_mismatch"},
		},
		{"neutral prior", nlp.Features{"masking_hits": 1}, artifact.Priors{HiddenDistressGivenMasking: 0.45}, 0.12, []string{"masking_markers"}},
		{
			"strong prior",
			nlp.Features{"masking_hits": 1},
			artifact.Priors{HiddenDistressGivenMasking: 0.80},
			0.24,
			[]string{"learned_masking_prior", "masking_markers"},
		},
		{
			"clipped",
			nlp.Features{"distress_hits": 5, "pos_hits": 1, "neg_hits": 5, "masking_hits": 3, "minimizer_hits": 3, "hedging_hits": 3, "ellipses": 3},
			artifact.Priors{},
			1,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HiddenDistress(tt.feats, tt.priors)
			if !near(got.DistressScore, tt.want) {
				t.Errorf("score = %v, want %v", got.DistressScore, tt.want)
			}
			if tt.reasons != nil {
				if diff := cmp.Diff(tt.reasons, got.Reasons); diff != "" {
					t.Errorf("reasons mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestMasking(t *testing.T) {
	got := Masking(nlp.Features{"masking_hits": 3}, artifact.Priors{})
	if !got.IsMasking || !near(got.Confidence, 0.60) {
		t.Errorf("masking = %+v, want 0.60 masking", got)
	}

	got = Masking(nlp.Features{"minimizer_hits": 1, "neg_hits": 1}, artifact.Priors{MaskingPattern: 0.9})
	if got.IsMasking {
		t.Errorf("minimizer alone should not mask: %+v", got)
	}
	if diff := cmp.Diff([]string{"minimizers", "negative_context"}, got.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}

	boosted := Masking(nlp.Features{"masking_hits": 1}, artifact.Priors{MaskingPattern: 0.6})
	if !near(boosted.Confidence, 0.40+0.06) {
		t.Errorf("boosted confidence = %v, want 0.46", boosted.Confidence)
	}
}
