package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stellarlinkco/sentiencex/internal/cognition"
)

const (
	topicAlpha      = 0.18
	topicDecay      = 0.995
	topicFloor      = 0.02
	unresolvedAt    = 0.9
	distressAlpha   = 0.12
	factKeepConf    = 0.55
	factMaxAge      = 60 * 24 * time.Hour
	EmotionDistress = "distress"
)

// Semantic is the long-lived fact, topic and emotion state.
type Semantic struct {
	Facts        []cognition.Claim    `json:"facts"`
	FactLastSeen map[string]time.Time `json:"fact_last_seen"`
	Topics       map[string]float64   `json:"topics"`
	Emotions     map[string]float64   `json:"emotions"`
	Unresolved   map[string]time.Time `json:"unresolved"`
	LastTurn     time.Time            `json:"last_turn_ts"`
}

type TopicScore struct {
	Topic    string  `json:"topic"`
	Salience float64 `json:"salience"`
}

func NewSemantic() *Semantic {
	s := &Semantic{}
	s.ensure()
	return s
}

func (s *Semantic) ensure() {
	if s.FactLastSeen == nil {
		s.FactLastSeen = make(map[string]time.Time)
	}
	if s.Topics == nil {
		s.Topics = make(map[string]float64)
	}
	if s.Emotions == nil {
		s.Emotions = map[string]float64{EmotionDistress: 0}
	}
	if s.Unresolved == nil {
		s.Unresolved = make(map[string]time.Time)
	}
}

func factKey(c cognition.Claim) string { return c.Key + ":" + c.Value }

// UpdateFacts merges claims by (key, value): the newest polarity wins and
// the higher confidence is kept. Facts below factKeepConf are dropped once
// unseen for 60 days.
func (s *Semantic) UpdateFacts(claims []cognition.Claim, now time.Time) {
	for _, c := range claims {
		s.FactLastSeen[factKey(c)] = now
		replaced := false
		for i, kf := range s.Facts {
			if kf.Key == c.Key && kf.Value == c.Value {
				s.Facts[i] = cognition.Claim{
					Key:        kf.Key,
					Value:      kf.Value,
					Polarity:   c.Polarity,
					Confidence: max(kf.Confidence, c.Confidence),
				}
				replaced = true
				break
			}
		}
		if !replaced {
			s.Facts = append(s.Facts, c)
		}
	}

	keep := s.Facts[:0]
	for _, c := range s.Facts {
		seen, ok := s.FactLastSeen[factKey(c)]
		if !ok {
			seen = now
		}
		if c.Confidence >= factKeepConf || now.Sub(seen) < factMaxAge {
			keep = append(keep, c)
		}
	}
	s.Facts = keep
}

// UpdateTopics applies the salience EMA, then decays every topic and
// prunes the faded ones. A strong mention opens an unresolved entry.
func (s *Semantic) UpdateTopics(salience map[string]float64, now time.Time) {
	for topic, inc := range salience {
		s.Topics[topic] = ema(s.Topics[topic], min(1, inc), topicAlpha)
		if _, open := s.Unresolved[topic]; inc >= unresolvedAt && !open {
			s.Unresolved[topic] = now
		}
	}
	for topic, v := range s.Topics {
		v *= topicDecay
		if v < topicFloor {
			delete(s.Topics, topic)
			continue
		}
		s.Topics[topic] = v
	}
}

func (s *Semantic) UpdateEmotions(distress float64) {
	s.Emotions[EmotionDistress] = ema(s.Emotions[EmotionDistress], distress, distressAlpha)
}

func (s *Semantic) Distress() float64 { return s.Emotions[EmotionDistress] }

// MarkResolved clears an unresolved topic and reports whether it was open.
func (s *Semantic) MarkResolved(topic string) bool {
	_, ok := s.Unresolved[topic]
	delete(s.Unresolved, topic)
	return ok
}

// TopTopics returns up to n topics by salience, ties by name.
func (s *Semantic) TopTopics(n int) []TopicScore {
	out := RankTopics(s.Topics)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RankTopics orders a salience map by score, ties by name.
func RankTopics(salience map[string]float64) []TopicScore {
	out := make([]TopicScore, 0, len(salience))
	for t, v := range salience {
		out = append(out, TopicScore{Topic: t, Salience: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Salience != out[j].Salience {
			return out[i].Salience > out[j].Salience
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// OldestUnresolved returns the earliest-opened unresolved topic that has
// been open for at least minAge.
func (s *Semantic) OldestUnresolved(now time.Time, minAge time.Duration) (string, bool) {
	var (
		best  string
		since time.Time
	)
	for topic, ts := range s.Unresolved {
		if now.Sub(ts) < minAge {
			continue
		}
		if best == "" || ts.Before(since) || (ts.Equal(since) && topic < best) {
			best, since = topic, ts
		}
	}
	return best, best != ""
}

// FactsCopy returns a snapshot of the current facts.
func (s *Semantic) FactsCopy() []cognition.Claim {
	return append([]cognition.Claim(nil), s.Facts...)
}

func loadSemantic(path string) (*Semantic, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSemantic(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read semantic: %w", err)
	}
	s := &Semantic{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("parse semantic: %w", err)
	}
	s.ensure()
	return s, nil
}

func (s *Semantic) save(path string) error {
	return writeJSON(path, s)
}

func ema(prev, x, alpha float64) float64 {
	return (1-alpha)*prev + alpha*x
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
