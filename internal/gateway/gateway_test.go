package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/config"
	"github.com/stellarlinkco/sentiencex/internal/governor"
	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSampler struct {
	mu  sync.Mutex
	cpu float64
	mem float64
	err error
}

func (s *fakeSampler) Sample(context.Context) (governor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return governor.Snapshot{}, s.err
	}
	return governor.Snapshot{CPUPercent: s.cpu, MemPercent: s.mem}, nil
}

func (s *fakeSampler) set(cpu, mem float64) {
	s.mu.Lock()
	s.cpu, s.mem = cpu, mem
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingTrainer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingTrainer) Train(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingTrainer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ArtifactsDir = filepath.Join(cfg.DataDir, "artifacts")
	if _, err := artifact.Seed(cfg.ArtifactsDir); err != nil {
		t.Fatalf("seed artifacts: %v", err)
	}
	return cfg
}

type harness struct {
	g       *Gateway
	sampler *fakeSampler
	clock   *fakeClock
	trainer *countingTrainer
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		sampler: &fakeSampler{cpu: 10, mem: 10},
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		trainer: &countingTrainer{},
	}
	g, err := NewWithOptions(cfg, Options{Sampler: h.sampler, Trainer: h.trainer, Now: h.clock.Now})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown() })
	h.g = g
	return h
}

func TestGateway_HandleUserMessage(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx := context.Background()

	reply, err := h.g.HandleUserMessage(ctx, "ok", map[string]any{"client": "test"})
	if err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	if reply.Text == "" || reply.Brevity != "micro" {
		t.Fatalf("reply = %+v", reply)
	}

	health, err := h.g.Health(ctx)
	if err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if health.TurnCount != 2 || health.Memory.ShortTerm != 2 || health.SessionID != reply.Meta.SessionID {
		t.Fatalf("health = %+v", health)
	}
	if len(health.Jobs) != 6 || health.Journal == nil {
		t.Fatalf("jobs = %d journal = %v", len(health.Jobs), health.Journal)
	}
}

func TestGateway_SelfHarmIsSafety(t *testing.T) {
	h := newHarness(t, testConfig(t))
	reply, err := h.g.HandleUserMessage(context.Background(), "i want to die right now", nil)
	if err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	if reply.Tone != locale.ToneSafety {
		t.Fatalf("tone = %q", reply.Tone)
	}
}

func TestGateway_ApplyExplicitFeedback(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	ctx := context.Background()

	reply, err := h.g.HandleUserMessage(ctx, "work has been a lot lately", nil)
	if err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	sig, err := h.g.ApplyExplicitFeedback(ctx, learning.ExplicitFeedback{Rating: 1, Note: "helpful"})
	if err != nil {
		t.Fatalf("ApplyExplicitFeedback error: %v", err)
	}
	if !sig.Success || sig.Weight != 1 {
		t.Fatalf("signal = %+v", sig)
	}

	recs, err := h.g.journal.FeedbackFor(reply.TemplateID)
	if err != nil {
		t.Fatalf("FeedbackFor error: %v", err)
	}
	if len(recs) != 1 || recs[0].Rating != 1 || recs[0].Tone != reply.Tone {
		t.Fatalf("journal feedback = %+v", recs)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, memory.FeedbackFile)); err != nil {
		t.Fatalf("feedback log missing: %v", err)
	}
	if _, err := h.g.ApplyExplicitFeedback(ctx, learning.ExplicitFeedback{Rating: 5}); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("err = %v, want ErrInvalidRating", err)
	}
}

func TestGateway_FeedbackAfterRestartRatesLastReply(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newHarness(t, cfg)
	reply, err := first.g.HandleUserMessage(ctx, "work has been a lot lately", nil)
	if err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	if err := first.g.Shutdown(); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	second := newHarness(t, cfg)
	if _, err := second.g.ApplyExplicitFeedback(ctx, learning.ExplicitFeedback{Rating: 1}); err != nil {
		t.Fatalf("ApplyExplicitFeedback error: %v", err)
	}

	base := strings.TrimSuffix(reply.TemplateID, learning.ActionSuffix)
	arm, ok := second.g.learner.Ranker().Arm(base)
	if !ok || arm.A != 2 || arm.B != 1 {
		t.Fatalf("arm %q = %+v, %v; want a=2 b=1", base, arm, ok)
	}
	if got := second.g.learner.Tone().Score(reply.Tone); got <= 0 {
		t.Fatalf("tone %q score = %v, want positive", reply.Tone, got)
	}
	recs, err := second.g.journal.FeedbackFor(reply.TemplateID)
	if err != nil {
		t.Fatalf("FeedbackFor error: %v", err)
	}
	if len(recs) != 1 || recs[0].Tone != reply.Tone {
		t.Fatalf("journal feedback = %+v", recs)
	}
}

func TestGateway_SetAdminBypassesGovernor(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx := context.Background()
	h.sampler.set(90, 90)
	if _, err := h.g.gov.Refresh(ctx); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	health, _ := h.g.Health(ctx)
	if health.Hints.Level != governor.LevelHard {
		t.Fatalf("level = %q, want hard", health.Hints.Level)
	}

	h.g.SetAdmin(true)
	health, _ = h.g.Health(ctx)
	if health.Hints.Level != governor.LevelNone || health.EventsEnabled || !health.Admin {
		t.Fatalf("admin health = %+v", health)
	}
	h.g.SetAdmin(false)
	if !h.g.bus.Enabled() {
		t.Fatal("event stream still disabled")
	}
}

func TestGateway_CompactDeferredUnderLoad(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx := context.Background()
	h.g.bus.Drain()

	h.sampler.set(95, 20)
	h.g.gov.Refresh(ctx)
	if err := h.g.cron.RunNow(JobCompact); err != nil {
		t.Fatalf("compact job error: %v", err)
	}
	for _, ev := range h.g.bus.Drain() {
		if ev.Name == "memory.compact" {
			t.Fatal("compacted under hard load")
		}
	}

	h.sampler.set(10, 10)
	h.g.gov.Refresh(ctx)
	if err := h.g.cron.RunNow(JobCompact); err != nil {
		t.Fatalf("compact job error: %v", err)
	}
	found := false
	for _, ev := range h.g.bus.Drain() {
		if ev.Name == "memory.compact" {
			found = true
		}
	}
	if !found {
		t.Fatal("compact job did not compact")
	}
}

func TestGateway_IdleTraining(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Enabled = true
	h := newHarness(t, cfg)
	ctx := context.Background()

	if err := h.g.maybeTrain(ctx); err != nil || h.trainer.count() != 0 {
		t.Fatalf("trained without idling: err=%v calls=%d", err, h.trainer.count())
	}

	h.clock.Advance(6 * time.Minute)
	if err := h.g.maybeTrain(ctx); err != nil || h.trainer.count() != 1 {
		t.Fatalf("idle run: err=%v calls=%d", err, h.trainer.count())
	}

	h.clock.Advance(6 * time.Minute)
	h.g.maybeTrain(ctx)
	if h.trainer.count() != 1 {
		t.Fatalf("min gap ignored: calls=%d", h.trainer.count())
	}

	h.clock.Advance(20 * time.Minute)
	h.sampler.set(95, 95)
	h.g.gov.Refresh(ctx)
	h.g.maybeTrain(ctx)
	if h.trainer.count() != 1 {
		t.Fatalf("trained over the critical ceiling: calls=%d", h.trainer.count())
	}

	h.sampler.set(10, 10)
	h.g.gov.Refresh(ctx)
	if _, err := h.g.HandleUserMessage(ctx, "still awake", nil); err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	h.g.maybeTrain(ctx)
	if h.trainer.count() != 1 {
		t.Fatalf("trained right after a message: calls=%d", h.trainer.count())
	}

	h.clock.Advance(10 * time.Minute)
	h.trainer.err = errors.New("exit status 1")
	if err := h.g.maybeTrain(ctx); err == nil || h.trainer.count() != 2 {
		t.Fatalf("failed run: err=%v calls=%d", err, h.trainer.count())
	}
}

func TestGateway_TrainingDisabled(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.clock.Advance(time.Hour)
	if err := h.g.maybeTrain(context.Background()); err != nil || h.trainer.count() != 0 {
		t.Fatalf("err=%v calls=%d", err, h.trainer.count())
	}
}

func TestGateway_EventsArchived(t *testing.T) {
	h := newHarness(t, testConfig(t))
	if _, err := h.g.HandleUserMessage(context.Background(), "hello there", nil); err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	h.g.flushEvents()

	events, err := h.g.journal.RecentEvents("dialogue.reply", 10)
	if err != nil {
		t.Fatalf("RecentEvents error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("archived replies = %d, want 1", len(events))
	}
	if h.g.bus.Len() != 0 {
		t.Fatalf("bus not drained: %d", h.g.bus.Len())
	}
}

func TestGateway_MarkResolvedAndEpisodes(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx := context.Background()

	h.g.store.Semantic().Unresolved["work"] = h.clock.Now()
	ok, err := h.g.MarkResolved(ctx, "work")
	if err != nil || !ok {
		t.Fatalf("MarkResolved = %v, %v", ok, err)
	}
	if ok, _ := h.g.MarkResolved(ctx, "work"); ok {
		t.Fatal("resolved twice")
	}

	if _, err := h.g.HandleUserMessage(ctx, "my exam is tomorrow and i feel behind", nil); err != nil {
		t.Fatalf("HandleUserMessage error: %v", err)
	}
	h.clock.Advance(time.Hour)
	if err := h.g.cron.RunNow(JobEpisodes); err != nil {
		t.Fatalf("episodes job error: %v", err)
	}
	if h.g.store.Episodes().IsOpen() || h.g.store.Episodes().Len() != 1 {
		t.Fatalf("episode not closed: open=%v len=%d", h.g.store.Episodes().IsOpen(), h.g.store.Episodes().Len())
	}
}

func TestGateway_RunAndShutdown(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.g.Run(ctx) }()

	if _, err := h.g.HandleUserMessage(context.Background(), "ok", nil); err != nil {
		t.Fatalf("HandleUserMessage during Run: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := h.g.HandleUserMessage(context.Background(), "ok", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := h.g.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Run after shutdown = %v", err)
	}
	if err := h.g.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestGateway_RefreshArtifacts(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	ctx := context.Background()

	changed, err := h.g.RefreshArtifacts(ctx)
	if err != nil || len(changed) != 0 {
		t.Fatalf("fresh refresh = %v, %v", changed, err)
	}

	path := filepath.Join(cfg.ArtifactsDir, artifact.CognitionDir, "policy_priors.json")
	if err := os.WriteFile(path, []byte(`{"intent=venting|sent=neg|hb=0":{"empathy":0.1}}`), 0644); err != nil {
		t.Fatalf("write priors: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	changed, err = h.g.RefreshArtifacts(ctx)
	if err != nil || len(changed) == 0 {
		t.Fatalf("refresh after write = %v, %v", changed, err)
	}
}

func TestNewWithOptions_BadLocale(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocaleDir = filepath.Join(t.TempDir(), "missing")
	if _, err := NewWithOptions(cfg, Options{Sampler: &fakeSampler{}}); err == nil {
		t.Fatal("expected locale error")
	}
}

func TestCommandTrainer(t *testing.T) {
	if err := (CommandTrainer{}).Train(context.Background()); err == nil {
		t.Fatal("expected error without a command")
	}
	if err := (CommandTrainer{Command: []string{"true"}}).Train(context.Background()); err != nil {
		t.Fatalf("true: %v", err)
	}
	err := (CommandTrainer{Command: []string{"sh", "-c", "echo broken >&2; exit 3"}}).Train(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
