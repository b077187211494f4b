package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const topicsFile = "topics.json"

// maxRelatedTerms bounds how many related terms feed topic salience.
const maxRelatedTerms = 48

// TopicProfile describes one knowledge topic.
type TopicProfile struct {
	Topic               string             `json:"topic"`
	RelatedTerms        []string           `json:"related_terms"`
	EmotionAssociations map[string]float64 `json:"emotion_associations"`
	SensitivityLevel    float64            `json:"sensitivity_level"`
}

// Knowledge is the immutable topic and action base.
type Knowledge struct {
	topics  map[string]TopicProfile
	names   []string
	actions map[string][]string
}

type topicsDoc struct {
	Topics []struct {
		Topic               string             `json:"topic"`
		RelatedTerms        []string           `json:"related_terms"`
		EmotionAssociations map[string]float64 `json:"emotion_associations"`
		SensitivityLevel    *float64           `json:"sensitivity_level"`
	} `json:"topics"`
}

type actionsDoc struct {
	Topic   string   `json:"topic"`
	Actions []string `json:"actions"`
}

// LoadKnowledge reads topics.json and actions/*.json under dir. A missing
// directory yields an empty base; an unreadable action file is skipped with
// a warning.
func LoadKnowledge(dir string, logger *zap.Logger) (*Knowledge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Knowledge{
		topics:  make(map[string]TopicProfile),
		actions: make(map[string][]string),
	}

	raw, err := os.ReadFile(filepath.Join(dir, topicsFile))
	switch {
	case err == nil:
		var doc topicsDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
		for _, t := range doc.Topics {
			name := strings.TrimSpace(t.Topic)
			if name == "" {
				continue
			}
			tp := TopicProfile{
				Topic:               name,
				RelatedTerms:        t.RelatedTerms,
				EmotionAssociations: t.EmotionAssociations,
				SensitivityLevel:    0.2,
			}
			if t.SensitivityLevel != nil {
				tp.SensitivityLevel = *t.SensitivityLevel
			}
			k.topics[name] = tp
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read topics: %w", err)
	}
	for name := range k.topics {
		k.names = append(k.names, name)
	}
	sort.Strings(k.names)

	actionsDir := filepath.Join(dir, ActionsDir)
	entries, err := os.ReadDir(actionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return k, nil
		}
		return nil, fmt.Errorf("read actions dir %q: %w", actionsDir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(actionsDir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skip action file", zap.String("path", path), zap.Error(err))
			continue
		}
		var doc actionsDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Warn("skip invalid action file", zap.String("path", path), zap.Error(err))
			continue
		}
		topic := strings.TrimSpace(doc.Topic)
		if topic == "" {
			topic = strings.TrimSuffix(entry.Name(), ".json")
		}
		var acts []string
		for _, a := range doc.Actions {
			if a = strings.TrimSpace(a); a != "" {
				acts = append(acts, a)
			}
		}
		if len(acts) > 0 {
			k.actions[topic] = acts
		}
	}
	return k, nil
}

// Topics returns the topic names in sorted order.
func (k *Knowledge) Topics() []string {
	if k == nil {
		return nil
	}
	return k.names
}

// Topic looks up one topic profile.
func (k *Knowledge) Topic(name string) (TopicProfile, bool) {
	if k == nil {
		return TopicProfile{}, false
	}
	tp, ok := k.topics[name]
	return tp, ok
}

// BestActions returns up to limit suggested actions for topic.
func (k *Knowledge) BestActions(topic string, limit int) []string {
	if k == nil || topic == "" || limit <= 0 {
		return nil
	}
	acts := k.actions[topic]
	if len(acts) > limit {
		acts = acts[:limit]
	}
	return acts
}

// Salience scores topics mentioned in lowerText: 1.0 for the topic name
// itself, 0.75 for one of its related terms.
func (k *Knowledge) Salience(lowerText string) map[string]float64 {
	out := make(map[string]float64)
	if k == nil {
		return out
	}
	for _, name := range k.names {
		if strings.Contains(lowerText, name) {
			out[name] = 1.0
			continue
		}
		terms := k.topics[name].RelatedTerms
		if len(terms) > maxRelatedTerms {
			terms = terms[:maxRelatedTerms]
		}
		for _, term := range terms {
			if term != "" && strings.Contains(lowerText, term) {
				out[name] = max(out[name], 0.75)
			}
		}
	}
	return out
}
