package learning

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExplicitSignal(t *testing.T) {
	tests := []struct {
		rating int
		want   Signal
	}{
		{1, Signal{Kind: KindExplicit, Success: true, Weight: 1}},
		{-1, Signal{Kind: KindExplicit, Success: false, Weight: 1}},
		{0, Signal{Kind: KindExplicit, Success: false, Weight: 0.2}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ExplicitSignal(ExplicitFeedback{Rating: tt.rating})); diff != "" {
			t.Errorf("rating %d mismatch (-want +got):\n%s", tt.rating, diff)
		}
	}
}

func TestImplicitSignal(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		success bool
		weight  float64
	}{
		{10 * time.Second, true, 0.35},
		{time.Minute, true, 0.35},
		{5 * time.Minute, true, 0.20},
		{7 * time.Minute, true, 0.20},
		{15 * time.Minute, false, 0.15},
		{20 * time.Minute, false, 0.15},
		{3 * time.Hour, false, 0.25},
	}
	for _, tt := range tests {
		got := ImplicitSignal(tt.elapsed)
		if got.Success != tt.success || got.Weight != tt.weight || got.Kind != KindImplicit {
			t.Errorf("ImplicitSignal(%v) = %+v", tt.elapsed, got)
		}
	}
	if r := ImplicitSignal(time.Hour).Reward(); r != -0.25 {
		t.Errorf("reward = %v, want -0.25", r)
	}
}

func TestExplicitFeedbackPayload(t *testing.T) {
	got := ExplicitFeedback{Rating: -1, TemplateID: "empathy.2", Note: "too long"}.Payload()
	want := map[string]any{"kind": KindExplicit, "rating": -1, "template_id": "empathy.2", "note": "too long"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestTonePreference(t *testing.T) {
	p := NewTonePreference()
	if len(p.Scores) != 5 {
		t.Fatalf("scores = %v", p.Scores)
	}
	p.Update("empathy", 1)
	if got := p.Score("empathy"); got != 0.12 {
		t.Fatalf("empathy = %v, want 0.12", got)
	}
	adj := p.Adjust(map[string]float64{"normal": 0.25, "empathy": 0.85}, 0.35)
	if adj["normal"] != 0.25 || adj["empathy"] != 0.85+0.35*0.12 {
		t.Fatalf("adjusted = %v", adj)
	}
}
