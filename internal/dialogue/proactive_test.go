package dialogue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChooseProactive(t *testing.T) {
	gap := 12 * time.Hour
	withdrawal := artifact.Priors{Withdrawal: &artifact.WithdrawalRule{P: 0.5, MinDistress: 0.7}}

	tests := []struct {
		name   string
		setup  func(*memory.Semantic)
		priors artifact.Priors
		avg    float64
		want   *Prompt
	}{
		{
			name: "oldest unresolved wins",
			setup: func(s *memory.Semantic) {
				s.Unresolved["work"] = t0.Add(-48 * time.Hour)
				s.Unresolved["sleep"] = t0.Add(-24 * time.Hour)
				s.Topics["money"] = 0.9
				s.LastTurn = t0.Add(-24 * time.Hour)
			},
			want: &Prompt{Topic: "work", Kind: ProactiveUnresolved},
		},
		{
			name: "unresolved too fresh falls to trend",
			setup: func(s *memory.Semantic) {
				s.Unresolved["work"] = t0.Add(-time.Hour)
				s.Topics["work"] = 0.5
				s.LastTurn = t0.Add(-13 * time.Hour)
			},
			want: &Prompt{Topic: "work", Kind: ProactiveTrend},
		},
		{
			name: "trend needs a quiet stretch",
			setup: func(s *memory.Semantic) {
				s.Topics["work"] = 0.5
				s.LastTurn = t0.Add(-time.Hour)
			},
			want: nil,
		},
		{
			name: "withdrawal",
			setup: func(s *memory.Semantic) {
				s.Topics["exam"] = 0.2
				s.Emotions[memory.EmotionDistress] = 0.65
				s.LastTurn = t0.Add(-20 * time.Hour)
			},
			priors: withdrawal,
			avg:    6,
			want:   &Prompt{Topic: "exam", Kind: ProactiveWithdrawal},
		},
		{
			name: "withdrawal skipped for chatty users",
			setup: func(s *memory.Semantic) {
				s.Emotions[memory.EmotionDistress] = 0.65
				s.LastTurn = t0.Add(-20 * time.Hour)
			},
			priors: withdrawal,
			avg:    14,
			want:   nil,
		},
		{
			name: "withdrawal without topics",
			setup: func(s *memory.Semantic) {
				s.Emotions[memory.EmotionDistress] = 0.9
				s.LastTurn = t0.Add(-20 * time.Hour)
			},
			priors: withdrawal,
			avg:    5,
			want:   &Prompt{Topic: "that", Kind: ProactiveWithdrawal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sem := memory.NewSemantic()
			tt.setup(sem)
			got := ChooseProactive(sem, tt.priors, tt.avg, gap, t0)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ChooseProactive mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
