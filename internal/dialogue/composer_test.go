package dialogue

import (
	"strings"
	"testing"

	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/style"
)

func testBundle(t *testing.T) *locale.Bundle {
	t.Helper()
	b, err := locale.LoadDefault(locale.DefaultName)
	if err != nil {
		t.Fatalf("load locale: %v", err)
	}
	return b
}

func TestReflectPhrase(t *testing.T) {
	tests := []struct {
		sent     string
		distress float64
		masking  bool
		want     string
	}{
		{"neu", 0.8, true, "I'm noticing a lot under the surface. "},
		{"neg", 0.8, false, "That sounds rough. "},
		{"pos", 0.1, false, "I hear you. "},
		{"pos", 0.5, false, "I'm with you. "},
		{"neu", 0.1, false, "I'm with you. "},
	}
	for _, tt := range tests {
		if got := ReflectPhrase(tt.sent, tt.distress, tt.masking); got != tt.want {
			t.Errorf("ReflectPhrase(%q, %v, %v) = %q, want %q", tt.sent, tt.distress, tt.masking, got, tt.want)
		}
	}
}

func TestComposer_FillsSlots(t *testing.T) {
	c := NewComposer(testBundle(t), learning.NewTemplateRanker())
	got := c.Compose(locale.ToneProactive, style.BrevityShort, map[string]string{SlotTopic: "work"}, 7)
	if got.TemplateID != "proactive.checkin" {
		t.Fatalf("template = %q", got.TemplateID)
	}
	if got.Text != "Earlier you mentioned work. How has that been since?" || got.Tone != locale.ToneProactive {
		t.Fatalf("composed = %+v", got)
	}
}

func TestComposer_SameSeedSamePick(t *testing.T) {
	c := NewComposer(testBundle(t), learning.NewTemplateRanker())
	slots := map[string]string{SlotReflect: "", SlotTopic: "sleep"}
	first := c.Compose(locale.ToneEmpathy, style.BrevityNormal, slots, 42)
	for range 5 {
		if again := c.Compose(locale.ToneEmpathy, style.BrevityNormal, slots, 42); again.TemplateID != first.TemplateID {
			t.Fatalf("pick changed: %q then %q", first.TemplateID, again.TemplateID)
		}
	}
	if strings.Contains(first.Text, "{") {
		t.Fatalf("unfilled slot in %q", first.Text)
	}
}

func TestComposer_PrefersRewardedTemplate(t *testing.T) {
	ranker := learning.NewTemplateRanker()
	for range 30 {
		ranker.Update("normal.tell_more", true, 1)
		ranker.Update("normal.what_next", false, 1)
	}
	c := NewComposer(testBundle(t), ranker)
	wins := 0
	for seed := range uint64(100) {
		if c.Compose(locale.ToneNormal, style.BrevityShort, nil, seed).TemplateID == "normal.tell_more" {
			wins++
		}
	}
	if wins < 95 {
		t.Fatalf("rewarded template won %d/100", wins)
	}
}

func TestComposer_AckShortFallback(t *testing.T) {
	b := &locale.Bundle{Templates: map[string][]locale.Template{
		locale.ToneEmpathy: {
			{ID: "empathy.long", Text: "{reflect}Long reply.", Brevity: []string{style.BrevityNormal}, Tone: locale.ToneEmpathy},
		},
		locale.ToneAckShort: {
			{ID: "ack.mm", Text: "Mm.", Brevity: []string{style.BrevityMicro}, Tone: locale.ToneNormal},
		},
	}}
	c := NewComposer(b, learning.NewTemplateRanker())

	if got := c.Candidates(locale.ToneEmpathy, style.BrevityMicro); len(got) != 1 || got[0].ID != "ack.mm" {
		t.Fatalf("micro candidates = %+v", got)
	}
	if got := c.Candidates(locale.ToneEmpathy, style.BrevityShort); len(got) != 1 || got[0].ID != "empathy.long" {
		t.Fatalf("short candidates = %+v", got)
	}
	got := c.Compose(locale.ToneEmpathy, style.BrevityMicro, nil, 1)
	if got.Text != "Mm." || got.Tone != locale.ToneNormal {
		t.Fatalf("composed = %+v", got)
	}
}

func TestBestTopic(t *testing.T) {
	distress := locale.NewWordSet("work", "sleep", "deadline")
	if got := BestTopic("my deadline at work", distress, []string{"money"}); got != "deadline" {
		t.Fatalf("BestTopic = %q", got)
	}
	if got := BestTopic("nothing here", distress, []string{"money"}); got != "money" {
		t.Fatalf("BestTopic = %q", got)
	}
	if got := BestTopic("nothing here", distress, nil); got != "that" {
		t.Fatalf("BestTopic = %q", got)
	}
}

func TestSeedVariesWithDecision(t *testing.T) {
	if Seed(100, "normal", "short", "work") == Seed(100, "empathy", "short", "work") {
		t.Fatal("seed ignores tone")
	}
	if Seed(100, "normal", "short", "work") != Seed(100, "normal", "short", "work") {
		t.Fatal("seed not stable")
	}
}
