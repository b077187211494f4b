// Package gateway owns every piece of mutable per-user state behind a
// single actor goroutine and exposes the core operations to callers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/bus"
	"github.com/stellarlinkco/sentiencex/internal/cognition"
	"github.com/stellarlinkco/sentiencex/internal/config"
	"github.com/stellarlinkco/sentiencex/internal/cron"
	"github.com/stellarlinkco/sentiencex/internal/dialogue"
	"github.com/stellarlinkco/sentiencex/internal/governor"
	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/memory"
	"github.com/stellarlinkco/sentiencex/internal/style"
)

// Maintenance job names.
const (
	JobResources = "resources"
	JobArtifacts = "artifacts"
	JobLearning  = "learning"
	JobCompact   = "compact"
	JobEpisodes  = "episodes"
	JobIdleTrain = "idle_train"
)

const drainInterval = 2 * time.Second

var (
	ErrClosed        = errors.New("gateway closed")
	ErrInvalidRating = errors.New("rating must be -1, 0 or 1")
)

// Options for creating a Gateway
type Options struct {
	Logger  *zap.Logger
	Sampler governor.Sampler
	Trainer Trainer
	Now     func() time.Time
}

type Gateway struct {
	cfg     *config.Config
	logger  *zap.Logger
	now     func() time.Time
	started time.Time

	bus     *bus.EventBus
	bundle  *locale.Bundle
	cache   *artifact.Cache
	watcher *artifact.Watcher
	store   *memory.Store
	journal *memory.Journal
	learner *learning.Updater
	gov     *governor.Governor
	policy  *dialogue.Policy
	cron    *cron.Service
	trainer Trainer

	reqs     chan func()
	quit     chan struct{}
	loopDone chan struct{}
	closed   atomic.Bool
	shutdown sync.Once
	closeErr error

	lastUser  atomic.Int64
	lastTrain atomic.Int64
}

// Health is the resource and state snapshot.
type Health struct {
	Uptime           time.Duration         `json:"uptime"`
	SessionID        string                `json:"session_id"`
	TurnCount        int                   `json:"turn_count"`
	Admin            bool                  `json:"admin"`
	Resources        governor.Snapshot     `json:"resources"`
	Hints            governor.Hints        `json:"hints"`
	Memory           memory.Stats          `json:"memory"`
	LearningArms     int                   `json:"learning_arms"`
	Jobs             []cron.Job            `json:"jobs"`
	ArtifactVersions map[string]time.Time  `json:"artifact_versions"`
	ArtifactReloads  int                   `json:"artifact_reloads"`
	EventsEnabled    bool                  `json:"events_enabled"`
	EventsQueued     int                   `json:"events_queued"`
	EventsDropped    uint64                `json:"events_dropped"`
	Journal          *memory.JournalCounts `json:"journal,omitempty"`
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Gateway{
		cfg:      cfg,
		logger:   opts.Logger.Named("gateway"),
		now:      opts.Now,
		started:  opts.Now(),
		bus:      bus.NewEventBus(cfg.Events.QueueSize),
		reqs:     make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	bundle, err := loadBundle(cfg)
	if err != nil {
		return nil, err
	}
	g.bundle = bundle

	g.cache = artifact.NewCache(cfg.ArtifactsDir, opts.Logger.Named("artifact"))
	g.watcher = artifact.NewWatcher(cfg.ArtifactsDir, 0, g.onArtifactsChanged, opts.Logger.Named("artifact"))

	g.store, err = memory.Open(memory.Options{
		Dir:           cfg.DataDir,
		Bundle:        bundle,
		STMTurns:      cfg.STMTurns,
		LoadTailLines: cfg.Memory.LoadTailLines,
		EpisodeGap:    cfg.Memory.EpisodeGap,
		Events:        g.bus,
		Logger:        opts.Logger.Named("memory"),
		Now:           opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	if cfg.Events.Journal {
		g.journal, err = memory.OpenJournal(filepath.Join(cfg.DataDir, memory.JournalFile))
		if err != nil {
			g.store.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	g.learner = learning.Open(learning.Options{
		Dir:    cfg.DataDir,
		Events: g.bus,
		Logger: opts.Logger.Named("learning"),
		Now:    opts.Now,
	})

	sampler := opts.Sampler
	if sampler == nil {
		mon, err := governor.NewMonitor(context.Background())
		if err != nil {
			g.closeStores()
			return nil, fmt.Errorf("create resource monitor: %w", err)
		}
		sampler = mon
	}
	g.gov = governor.New(sampler, budgetFrom(cfg), opts.Logger.Named("governor"))

	g.policy = dialogue.New(dialogue.Options{
		Config:      policyConfig(cfg),
		Bundle:      bundle,
		Analyzer:    cognition.NewAnalyzer(bundle, g.cache),
		Artifacts:   g.cache,
		Store:       g.store,
		Learner:     g.learner,
		Hints:       g.gov,
		ProfilePath: filepath.Join(cfg.DataDir, style.ProfileFile),
		Events:      g.bus,
		Logger:      opts.Logger,
		Now:         opts.Now,
	})

	g.trainer = opts.Trainer
	if g.trainer == nil && len(cfg.Training.Command) > 0 {
		g.trainer = CommandTrainer{Command: cfg.Training.Command, Dir: cfg.DataDir, ArtifactsDir: cfg.ArtifactsDir}
	}

	g.cron = cron.NewService(opts.Logger)
	if err := g.registerJobs(); err != nil {
		g.closeStores()
		return nil, err
	}

	go g.processLoop()
	return g, nil
}

func loadBundle(cfg *config.Config) (*locale.Bundle, error) {
	if cfg.LocaleDir != "" {
		b, err := locale.Load(cfg.LocaleDir)
		if err != nil {
			return nil, fmt.Errorf("load locale %s: %w", cfg.LocaleDir, err)
		}
		return b, nil
	}
	b, err := locale.LoadDefault(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("load locale %s: %w", cfg.Locale, err)
	}
	return b, nil
}

func budgetFrom(cfg *config.Config) governor.Budget {
	return governor.Budget{
		CPU:            cfg.Governor.CPUBudget,
		Mem:            cfg.Governor.MemBudget,
		HardCPU:        cfg.Governor.HardCPU,
		HardMem:        cfg.Governor.HardMem,
		Critical:       cfg.Governor.Critical,
		RetrievalTurns: cfg.Memory.RetrievalTurns,
		ScanTailLines:  cfg.Memory.ScanTailLines,
	}
}

func policyConfig(cfg *config.Config) dialogue.Config {
	return dialogue.Config{
		MaxReplyChars:       cfg.MaxReplyChars,
		DistressThreshold:   cfg.DistressThreshold,
		ThreatThreshold:     cfg.ThreatThreshold,
		ToneWeight:          cfg.TonePreferenceWeight,
		AdviceCooldownTurns: cfg.AdviceCooldownTurns,
		Proactive: dialogue.ProactiveConfig{
			MinTurns:    cfg.Proactive.MinTurns,
			MinTurnGap:  cfg.Proactive.MinTurnGap,
			MinHoursGap: time.Duration(cfg.Proactive.MinHoursGap * float64(time.Hour)),
		},
	}
}

func (g *Gateway) registerJobs() error {
	jobs := []struct {
		name  string
		every time.Duration
		fn    cron.Func
	}{
		{JobResources, g.cfg.Jobs.Resources, func(ctx context.Context) error {
			_, err := g.gov.Refresh(ctx)
			return err
		}},
		{JobArtifacts, g.cfg.Jobs.Artifacts, func(ctx context.Context) error {
			_, err := g.RefreshArtifacts(ctx)
			return err
		}},
		{JobLearning, g.cfg.Jobs.Learning, func(ctx context.Context) error {
			return g.do(ctx, g.learner.Flush)
		}},
		{JobCompact, g.cfg.Jobs.Compact, g.compactJob},
		{JobEpisodes, g.cfg.Jobs.Episodes, func(ctx context.Context) error {
			return g.do(ctx, func() { g.store.CloseIdleEpisode(g.cfg.Memory.EpisodeIdle) })
		}},
		{JobIdleTrain, g.cfg.Jobs.IdleTrain, g.maybeTrain},
	}
	for _, j := range jobs {
		if _, err := g.cron.AddJob(j.name, j.every, j.fn); err != nil {
			return fmt.Errorf("register %s job: %w", j.name, err)
		}
	}
	return nil
}

// processLoop is the single writer for memory, learning and dialogue
// state.
func (g *Gateway) processLoop() {
	defer close(g.loopDone)
	for {
		select {
		case req := <-g.reqs:
			req()
		case <-g.quit:
			return
		}
	}
}

// do runs fn on the actor and waits for it. A request that has been
// accepted always runs to completion.
func (g *Gateway) do(ctx context.Context, fn func()) error {
	if g.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case g.reqs <- req:
	case <-g.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// HandleUserMessage runs the dialogue policy for one message.
func (g *Gateway) HandleUserMessage(ctx context.Context, text string, client map[string]any) (dialogue.Reply, error) {
	var (
		reply dialogue.Reply
		herr  error
	)
	err := g.do(ctx, func() {
		reply, herr = g.policy.Handle(text, client)
		g.lastUser.Store(g.now().UnixNano())
	})
	if err != nil {
		return dialogue.Reply{}, err
	}
	if herr != nil {
		g.logger.Error("handle message failed", zap.Error(herr))
		return dialogue.Reply{}, herr
	}
	return reply, nil
}

// ApplyExplicitFeedback rewards a reply. Without a template id the most
// recent reply is rated.
func (g *Gateway) ApplyExplicitFeedback(ctx context.Context, fb learning.ExplicitFeedback) (learning.Signal, error) {
	if fb.Rating < -1 || fb.Rating > 1 {
		return learning.Signal{}, ErrInvalidRating
	}
	var sig learning.Signal
	err := g.do(ctx, func() {
		if fb.TemplateID == "" && fb.Tone == "" {
			if id, tone, ok := g.learner.LastResponse(); ok {
				fb.TemplateID, fb.Tone = id, tone
			}
		}
		sig = g.learner.ApplyExplicit(fb)
		payload := fb.Payload()
		g.store.AddFeedback(payload)
		if g.journal != nil {
			rec := memory.FeedbackRecord{
				Kind:       learning.KindExplicit,
				TemplateID: fb.TemplateID,
				Tone:       fb.Tone,
				Rating:     fb.Rating,
				Payload:    payload,
			}
			if err := g.journal.RecordFeedback(rec); err != nil {
				g.logger.Warn("journal feedback failed", zap.Error(err))
			}
		}
	})
	return sig, err
}

// RefreshArtifacts reloads every artifact whose file changed and returns
// the reloaded names.
func (g *Gateway) RefreshArtifacts(ctx context.Context) ([]string, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	changed := g.cache.InvalidateIfStale()
	if len(changed) > 0 {
		g.logger.Info("artifacts reloaded", zap.Strings("changed", changed))
		g.bus.Publish("artifacts.reload", map[string]any{"changed": changed})
	}
	return changed, nil
}

func (g *Gateway) onArtifactsChanged() {
	if _, err := g.RefreshArtifacts(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		g.logger.Warn("artifact refresh failed", zap.Error(err))
	}
}

// Compact flushes the memory snapshots.
func (g *Gateway) Compact(ctx context.Context) error {
	return g.do(ctx, g.store.Compact)
}

func (g *Gateway) compactJob(ctx context.Context) error {
	if g.gov.Hints().Level == governor.LevelHard {
		g.logger.Debug("compaction deferred under load")
		return nil
	}
	return g.Compact(ctx)
}

// MarkResolved clears an unresolved topic.
func (g *Gateway) MarkResolved(ctx context.Context, topic string) (bool, error) {
	var ok bool
	err := g.do(ctx, func() { ok = g.store.MarkResolved(topic) })
	return ok, err
}

// SetAdmin toggles a privileged session: governance is bypassed and the
// live-event stream is silenced.
func (g *Gateway) SetAdmin(on bool) {
	g.gov.SetAdmin(on)
	g.bus.SetEnabled(!on)
	g.logger.Info("admin session", zap.Bool("on", on))
}

// Health collects the health snapshot on the actor.
func (g *Gateway) Health(ctx context.Context) (Health, error) {
	var h Health
	err := g.do(ctx, func() {
		st := g.policy.State()
		h = Health{
			Uptime:           g.now().Sub(g.started),
			SessionID:        st.SessionID,
			TurnCount:        st.TurnCount,
			Admin:            g.gov.Admin(),
			Resources:        g.gov.Last(),
			Hints:            g.gov.Hints(),
			Memory:           g.store.Stats(),
			LearningArms:     g.learner.Ranker().Len(),
			Jobs:             g.cron.ListJobs(),
			ArtifactVersions: g.cache.Versions(),
			ArtifactReloads:  g.cache.Reloads(),
			EventsEnabled:    g.bus.Enabled(),
			EventsQueued:     g.bus.Len(),
			EventsDropped:    g.bus.Dropped(),
		}
	})
	if err != nil {
		return Health{}, err
	}
	if g.journal != nil {
		if counts, err := g.journal.Counts(); err != nil {
			g.logger.Warn("journal counts failed", zap.Error(err))
		} else {
			h.Journal = &counts
		}
	}
	return h, nil
}

// maybeTrain triggers the external trainer once the user has been idle
// long enough, the previous run is old enough and the machine has
// headroom.
func (g *Gateway) maybeTrain(ctx context.Context) error {
	tc := g.cfg.Training
	if !tc.Enabled || g.trainer == nil {
		return nil
	}
	now := g.now()
	lastActive := g.started
	if ns := g.lastUser.Load(); ns != 0 {
		lastActive = time.Unix(0, ns)
	}
	if now.Sub(lastActive) < tc.IdleAfter {
		return nil
	}
	if ns := g.lastTrain.Load(); ns != 0 && now.Sub(time.Unix(0, ns)) < tc.MinGap {
		return nil
	}
	if !g.gov.Admin() && !g.gov.UnderCritical() {
		return nil
	}

	g.lastTrain.Store(now.UnixNano())
	g.logger.Info("idle training started")
	g.bus.Publish("training.start", nil)
	if err := g.trainer.Train(ctx); err != nil {
		g.bus.Publish("training.failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("idle training: %w", err)
	}
	changed := g.cache.InvalidateIfStale()
	g.bus.Publish("training.done", map[string]any{"changed": changed})
	g.logger.Info("idle training finished", zap.Strings("changed", changed))
	return nil
}

// Run starts the maintenance scheduler, the artifact watcher and the event
// archiver, and blocks until ctx is done. It shuts the gateway down on
// return.
func (g *Gateway) Run(ctx context.Context) error {
	if g.closed.Load() {
		return ErrClosed
	}
	eg, ctx := errgroup.WithContext(ctx)

	if _, err := g.gov.Refresh(ctx); err != nil {
		g.logger.Warn("initial resource sample failed", zap.Error(err))
	}
	if err := g.cron.Start(ctx); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}

	eg.Go(func() error {
		if err := g.watcher.Run(ctx); err != nil {
			g.logger.Warn("artifact watcher stopped, relying on periodic refresh", zap.Error(err))
		}
		return nil
	})
	if g.journal != nil {
		eg.Go(func() error { return g.drainEvents(ctx) })
	}
	eg.Go(func() error {
		<-ctx.Done()
		return nil
	})

	g.logger.Info("running", zap.String("data_dir", g.cfg.DataDir), zap.Int("jobs", len(g.cron.ListJobs())))
	err := eg.Wait()
	if serr := g.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (g *Gateway) drainEvents(ctx context.Context) error {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.flushEvents()
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *Gateway) flushEvents() {
	if g.journal == nil {
		return
	}
	events := g.bus.Drain()
	if len(events) == 0 {
		return
	}
	if err := g.journal.AppendEvents(events); err != nil {
		g.logger.Warn("archive events failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

// Shutdown stops the jobs, drains the actor and persists everything. It is
// safe to call more than once.
func (g *Gateway) Shutdown() error {
	g.shutdown.Do(func() {
		g.cron.Stop()
		g.closed.Store(true)
		close(g.quit)
		<-g.loopDone

		g.learner.Flush()
		g.closeStores()
		g.logger.Info("shutdown complete")
	})
	return g.closeErr
}

func (g *Gateway) closeStores() {
	g.store.Close()
	g.flushEvents()
	if g.journal != nil {
		if err := g.journal.Close(); err != nil {
			g.closeErr = fmt.Errorf("close journal: %w", err)
		}
	}
}
