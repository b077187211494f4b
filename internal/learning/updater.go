package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StateFile holds the combined bandit and tone state.
const StateFile = "learning.json"

// ActionSuffix marks a reply that carried a suggested action. Rewards go
// to the base template.
const ActionSuffix = "+action"

type Publisher interface {
	Publish(name string, data map[string]any)
}

type Options struct {
	Dir    string
	Events Publisher
	Logger *zap.Logger
	Now    func() time.Time
}

type lastResponse struct {
	at         time.Time
	templateID string
	tone       string
}

type state struct {
	Ranker *TemplateRanker `json:"template_ranker"`
	Tone   *TonePreference `json:"tone_pref"`
}

// Updater owns the learning state and persists it after every update.
type Updater struct {
	path   string
	ranker *TemplateRanker
	tone   *TonePreference
	last   *lastResponse
	events Publisher
	logger *zap.Logger
	now    func() time.Time
	warn   rate.Sometimes
	dirty  bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

// Open loads the learning state. A missing or corrupt file starts fresh.
func Open(opts Options) *Updater {
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	u := &Updater{
		path:   filepath.Join(opts.Dir, StateFile),
		ranker: NewTemplateRanker(),
		tone:   NewTonePreference(),
		events: opts.Events,
		logger: opts.Logger,
		now:    opts.Now,
		warn:   rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	if err := u.load(); err != nil {
		u.logger.Warn("learning state unreadable, starting fresh", zap.String("path", u.path), zap.Error(err))
	}
	return u
}

func (u *Updater) load() error {
	raw, err := os.ReadFile(u.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read learning state: %w", err)
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("parse learning state: %w", err)
	}
	if st.Ranker != nil && st.Ranker.Arms != nil {
		for id, arm := range st.Ranker.Arms {
			if arm == nil {
				delete(st.Ranker.Arms, id)
			}
		}
		u.ranker = st.Ranker
	}
	if st.Tone != nil && st.Tone.Scores != nil {
		u.tone = st.Tone
	}
	return nil
}

// Save writes the state atomically.
func (u *Updater) Save() error {
	data, err := json.Marshal(state{Ranker: u.ranker, Tone: u.tone})
	if err != nil {
		return fmt.Errorf("encode learning state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := u.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write learning state: %w", err)
	}
	if err := os.Rename(tmp, u.path); err != nil {
		return fmt.Errorf("replace learning state: %w", err)
	}
	u.dirty = false
	return nil
}

// Flush saves only when a previous save failed.
func (u *Updater) Flush() {
	if u.dirty {
		u.save()
	}
}

func (u *Updater) save() {
	u.dirty = true
	if err := u.Save(); err != nil {
		u.warn.Do(func() {
			u.logger.Warn("learning persistence failed", zap.Error(err))
		})
	}
}

// NoteResponse remembers the reply the next user message will reward.
func (u *Updater) NoteResponse(templateID, tone string) {
	u.last = &lastResponse{at: u.now(), templateID: templateID, tone: tone}
	u.events.Publish("learning.note_response", map[string]any{"template_id": templateID, "tone": tone})
}

// Resume restores the reply awaiting a reward from a previous process.
// It does nothing once a reply has been noted in this one.
func (u *Updater) Resume(templateID, tone string, at time.Time) {
	if u.last != nil || (templateID == "" && tone == "") {
		return
	}
	u.last = &lastResponse{at: at, templateID: templateID, tone: tone}
}

// OnUserMessage rewards the previous reply from the reply latency.
func (u *Updater) OnUserMessage() (Signal, bool) {
	if u.last == nil {
		return Signal{}, false
	}
	sig := ImplicitSignal(u.now().Sub(u.last.at))
	u.Apply(sig, u.last.templateID, u.last.tone)
	return sig, true
}

func (u *Updater) ApplyExplicit(f ExplicitFeedback) Signal {
	sig := ExplicitSignal(f)
	u.Apply(sig, f.TemplateID, f.Tone)
	return sig
}

// Apply updates the arm and the tone named by the signal and persists.
func (u *Updater) Apply(sig Signal, templateID, tone string) {
	templateID = strings.TrimSuffix(templateID, ActionSuffix)
	if templateID != "" {
		u.ranker.Update(templateID, sig.Success, sig.Weight)
	}
	if tone != "" {
		u.tone.Update(tone, sig.Reward())
	}
	u.save()
	u.events.Publish("learning.update", map[string]any{
		"kind":        sig.Kind,
		"success":     sig.Success,
		"weight":      sig.Weight,
		"template_id": templateID,
		"tone":        tone,
	})
}

func (u *Updater) Ranker() *TemplateRanker { return u.ranker }

func (u *Updater) Tone() *TonePreference { return u.tone }

// LastResponse reports the template and tone awaiting a reward.
func (u *Updater) LastResponse() (templateID, tone string, ok bool) {
	if u.last == nil {
		return "", "", false
	}
	return u.last.templateID, u.last.tone, true
}
