// Package dialogue turns one user message into one reply: it reads the
// user's state, chooses brevity and tone, composes from templates, shapes
// the text and records everything the learners need.
package dialogue

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/cognition"
	"github.com/stellarlinkco/sentiencex/internal/governor"
	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/memory"
	"github.com/stellarlinkco/sentiencex/internal/style"
)

const (
	contradictionLine      = "I might be mixing things up. Earlier it sounded different. Which feels more true right now?"
	contradictionMicroLine = "Has that changed since earlier?"
	contradictionID        = "system.contradiction"
	contradictionMicroID   = "system.contradiction_micro"
	actionLead             = " One small thing you could try: "
	proactiveMaxDistress   = 0.80
	rememberedTopicFloor   = 0.25
)

var actionIntents = []string{"planning", "task", "venting", "question"}

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("empty message")

// Artifacts is the read side of the artifact cache.
type Artifacts interface {
	Priors() artifact.Priors
	Knowledge() *artifact.Knowledge
}

// HintSource supplies governor hints. *governor.Governor implements it.
type HintSource interface {
	Hints() governor.Hints
}

type Config struct {
	MaxReplyChars       int
	DistressThreshold   float64
	ThreatThreshold     float64
	ToneWeight          float64
	AdviceCooldownTurns int
	Proactive           ProactiveConfig
}

func DefaultConfig() Config {
	return Config{
		MaxReplyChars:       800,
		DistressThreshold:   0.62,
		ThreatThreshold:     0.70,
		ToneWeight:          0.35,
		AdviceCooldownTurns: 2,
		Proactive: ProactiveConfig{
			MinTurns:    8,
			MinTurnGap:  6,
			MinHoursGap: 12 * time.Hour,
		},
	}
}

type Options struct {
	Config    Config
	Bundle    *locale.Bundle
	Analyzer  *cognition.Analyzer
	Artifacts Artifacts
	Store     *memory.Store
	Learner   *learning.Updater
	Hints     HintSource
	// ProfilePath is where the style profile is saved; empty keeps it in
	// memory only.
	ProfilePath string
	Events      memory.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
}

// RetrievedMeta summarizes what memory contributed.
type RetrievedMeta struct {
	TurnIDs  []int64 `json:"turn_ids"`
	Episodes int     `json:"episodes"`
	Facts    int     `json:"facts"`
}

// Meta is the diagnostic record returned with every reply.
type Meta struct {
	Inference  *cognition.Snapshot `json:"inference"`
	Retrieved  RetrievedMeta       `json:"retrieved"`
	Hints      governor.Hints      `json:"hints"`
	ToneScores map[string]float64  `json:"tone_scores,omitempty"`
	Proactive  *Prompt             `json:"proactive,omitempty"`
	Implicit   *learning.Signal    `json:"implicit_feedback,omitempty"`
	LatencyMS  int64               `json:"latency_ms"`
	SessionID  string              `json:"session_id"`
	TurnID     int64               `json:"turn_id"`
}

type Reply struct {
	Text       string `json:"reply"`
	Tone       string `json:"tone"`
	TemplateID string `json:"template_id"`
	Brevity    string `json:"brevity"`
	Meta       Meta   `json:"diagnostics"`
}

// Policy is the per-message orchestrator. It is not safe for concurrent
// use; the gateway actor is its only caller.
type Policy struct {
	cfg       Config
	bundle    *locale.Bundle
	analyzer  *cognition.Analyzer
	artifacts Artifacts
	store     *memory.Store
	learner   *learning.Updater
	hints     HintSource
	composer  *Composer
	shaper    *style.Shaper
	profile   *style.Profile
	path      string
	state     *State
	events    memory.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

func New(opts Options) *Policy {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	p := &Policy{
		cfg:       opts.Config,
		bundle:    opts.Bundle,
		analyzer:  opts.Analyzer,
		artifacts: opts.Artifacts,
		store:     opts.Store,
		learner:   opts.Learner,
		hints:     opts.Hints,
		composer:  NewComposer(opts.Bundle, opts.Learner.Ranker()),
		shaper:    style.NewShaper(opts.Bundle.Style, opts.Config.MaxReplyChars),
		path:      opts.ProfilePath,
		state:     NewState(),
		events:    opts.Events,
		logger:    opts.Logger.Named("dialogue"),
		now:       opts.Now,
	}
	p.profile = p.loadProfile()
	p.resumeLastReply()
	return p
}

// resumeLastReply hands the newest logged reply to the learner so feedback
// and reply latency after a restart still reach its template.
func (p *Policy) resumeLastReply() {
	t, ok := p.store.ShortTerm().LastAssistant()
	if !ok {
		return
	}
	templateID, _ := t.Meta["template_id"].(string)
	tone, _ := t.Meta["tone"].(string)
	p.learner.Resume(templateID, tone, t.Time)
}

func (p *Policy) loadProfile() *style.Profile {
	if p.path == "" {
		return style.NewProfile()
	}
	prof, err := style.LoadProfile(p.path)
	if err != nil {
		p.logger.Warn("style profile unreadable, starting fresh", zap.Error(err))
		return style.NewProfile()
	}
	return prof
}

func (p *Policy) State() *State { return p.state }

func (p *Policy) Profile() *style.Profile { return p.profile }

// Handle processes one user message.
func (p *Policy) Handle(text string, client map[string]any) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	start := p.now()
	now := start

	var implicit *learning.Signal
	if sig, ok := p.learner.OnUserMessage(); ok {
		implicit = &sig
	}

	p.profile.Update(style.ExtractSignals(p.analyzer.Extractor(), text))
	if p.path != "" {
		if err := p.profile.Save(p.path); err != nil {
			p.logger.Warn("style profile save failed", zap.Error(err))
		}
	}

	hints := p.hints.Hints()
	retrieved := p.store.Retrieve(text, hints.RetrievalTurns, hints.ScanTailLines)

	snap, err := p.analyzer.Snapshot(text, retrieved.Facts)
	if err != nil {
		return Reply{}, fmt.Errorf("analyze message: %w", err)
	}
	distress := snap.Hidden.DistressScore
	brevity := ChooseBrevity(p.profile.AvgTokens, distress, len(snap.Tokens))

	p.state.BumpUser(now)
	priors := p.artifacts.Priors()
	knowledge := p.artifacts.Knowledge()

	var prompt *Prompt
	if hints.AllowProactive && !snap.Threat.Active() && distress < proactiveMaxDistress && p.proactiveDue(now) {
		prompt = ChooseProactive(p.store.Semantic(), priors, p.profile.AvgTokens, p.cfg.Proactive.MinHoursGap, now)
	}

	tone, scores := ChooseTone(snap, priors, p.learner.Tone(), ToneConfig{
		ThreatThreshold:   p.cfg.ThreatThreshold,
		DistressThreshold: p.cfg.DistressThreshold,
		PreferenceWeight:  p.cfg.ToneWeight,
	})
	if prompt != nil && tone != locale.ToneSafety {
		tone = locale.ToneProactive
		p.markProactive(now)
	} else {
		prompt = nil
	}

	lower := strings.ToLower(snap.Normalized)
	salience := TopicSalience(lower, p.bundle.Lexicons.DistressTopics, knowledge.Salience(lower))
	topic := p.topic(lower, salience, prompt)

	composed := p.composer.Compose(tone, brevity, map[string]string{
		SlotReflect: ReflectPhrase(snap.Sentiment.Label, distress, snap.Masking.IsMasking),
		SlotTopic:   topic,
	}, Seed(now.Unix(), tone, brevity, topic))
	replyText, templateID, replyTone := composed.Text, composed.TemplateID, composed.Tone

	if p.actionAllowed(hints, tone, brevity, snap.Intent.Label, prompt) {
		if acts := knowledge.BestActions(topic, 1); len(acts) > 0 {
			replyText += actionLead + acts[0]
			templateID += learning.ActionSuffix
			p.state.LastAdviceTurn = p.state.TurnCount
		}
	}

	if snap.ContradictionScoreOrZero() >= cognition.ContradictionThreshold && tone != locale.ToneSafety {
		replyText, templateID = contradictionLine, contradictionID
		if brevity == style.BrevityMicro {
			replyText, templateID = contradictionMicroLine, contradictionMicroID
		}
	}

	replyText = p.shaper.Shape(p.profile, replyText, brevity)

	userTurn := p.store.AddTurn(memory.RoleUser, text, map[string]any{
		"client":    client,
		"inference": snap,
	})
	p.store.UpdateSemantic(snap.Claims, salience, distress)
	p.store.TrackEpisodeTurn(text, distress)
	p.store.AddTurn(memory.RoleAssistant, replyText, map[string]any{
		"template_id": templateID,
		"tone":        replyTone,
		"brevity":     brevity,
	})
	p.learner.NoteResponse(templateID, replyTone)
	p.state.BumpAI(p.now(), replyTone, templateID)

	meta := Meta{
		Inference:  snap,
		Retrieved:  retrievedMeta(retrieved),
		Hints:      hints,
		ToneScores: scores,
		Proactive:  prompt,
		Implicit:   implicit,
		LatencyMS:  p.now().Sub(start).Milliseconds(),
		SessionID:  p.state.SessionID,
		TurnID:     userTurn.ID,
	}
	p.events.Publish("dialogue.reply", map[string]any{
		"tone":        replyTone,
		"template_id": templateID,
		"brevity":     brevity,
		"threat":      snap.Threat.Label,
		"distress":    distress,
		"level":       string(hints.Level),
	})
	p.logger.Debug("reply composed",
		zap.String("tone", replyTone),
		zap.String("template_id", templateID),
		zap.String("brevity", brevity),
	)
	return Reply{Text: replyText, Tone: replyTone, TemplateID: templateID, Brevity: brevity, Meta: meta}, nil
}

func (p *Policy) proactiveDue(now time.Time) bool {
	pc := p.cfg.Proactive
	if p.state.TurnCount < pc.MinTurns || p.state.TurnCount-p.state.LastProactiveTurn < pc.MinTurnGap {
		return false
	}
	return p.state.LastProactive.IsZero() || now.Sub(p.state.LastProactive) >= pc.MinHoursGap
}

func (p *Policy) markProactive(now time.Time) {
	p.state.LastProactiveTurn = p.state.TurnCount
	p.state.LastProactive = now
}

func (p *Policy) actionAllowed(h governor.Hints, tone, brevity, intent string, prompt *Prompt) bool {
	if !h.AllowActions || prompt != nil || tone == locale.ToneSafety || brevity == style.BrevityMicro {
		return false
	}
	if !slices.Contains(actionIntents, intent) {
		return false
	}
	return p.state.TurnCount-p.state.LastAdviceTurn >= max(1, p.cfg.AdviceCooldownTurns)*2
}

func (p *Policy) topic(lower string, salience map[string]float64, prompt *Prompt) string {
	if prompt != nil {
		return prompt.Topic
	}
	var mentioned []string
	for _, ts := range memory.RankTopics(salience) {
		mentioned = append(mentioned, ts.Topic)
	}
	for _, ts := range p.store.Semantic().TopTopics(1) {
		if ts.Salience >= rememberedTopicFloor {
			mentioned = append(mentioned, ts.Topic)
		}
	}
	return BestTopic(lower, p.bundle.Lexicons.DistressTopics, mentioned)
}

func retrievedMeta(r memory.Retrieved) RetrievedMeta {
	out := RetrievedMeta{Episodes: len(r.Episodes), Facts: len(r.Facts)}
	for _, t := range r.Turns {
		out.TurnIDs = append(out.TurnIDs, t.ID)
	}
	return out
}
