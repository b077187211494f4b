package nlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

// Task names a classifier artifact.
type Task string

const (
	TaskSentiment Task = "sentiment"
	TaskIntent    Task = "intent"
	TaskSarcasm   Task = "sarcasm"
	TaskThreat    Task = "threat"
)

// Tasks lists every classifier the pipeline runs.
var Tasks = []Task{TaskSentiment, TaskIntent, TaskSarcasm, TaskThreat}

// ErrUnknownTask is returned for a task outside Tasks.
var ErrUnknownTask = errors.New("unknown classifier task")

// UnknownLabel is reported when a classifier has no labels.
const UnknownLabel = "unknown"

// WeightsFile returns the artifact file name for a task.
func (t Task) WeightsFile() string {
	return string(t) + "_weights.json"
}

// Valid reports whether t is a known task.
func (t Task) Valid() bool {
	for _, known := range Tasks {
		if t == known {
			return true
		}
	}
	return false
}

// LabelWeights is the sparse linear model of one label.
type LabelWeights struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Score is bias plus the dot product over features present in both maps.
func (lw LabelWeights) Score(f Features) float64 {
	s := lw.Bias
	for k, v := range f {
		if w, ok := lw.Weights[k]; ok {
			s += w * v
		}
	}
	return s
}

// WeightsDoc is the on-disk shape of a weight artifact.
type WeightsDoc struct {
	Labels map[string]LabelWeights `json:"labels"`
}

// Prediction is the outcome of one classification.
type Prediction struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Probs      map[string]float64 `json:"probs,omitempty"`
	Unknown    bool               `json:"unknown,omitempty"`
}

// LinearClassifier is a softmax over per-label linear scores. Labels are
// kept in lexicographic order and ties go to the earliest label.
type LinearClassifier struct {
	labels  []string
	weights []LabelWeights
}

func NewLinearClassifier(labels map[string]LabelWeights) *LinearClassifier {
	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)
	c := &LinearClassifier{labels: names, weights: make([]LabelWeights, len(names))}
	for i, l := range names {
		c.weights[i] = labels[l]
	}
	return c
}

// LoadClassifier reads a weight artifact.
func LoadClassifier(path string) (*LinearClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	var doc WeightsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", path, err)
	}
	if doc.Labels == nil {
		return nil, fmt.Errorf("parse weights %s: missing labels", path)
	}
	return NewLinearClassifier(doc.Labels), nil
}

// Labels returns the canonical label order.
func (c *LinearClassifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

func (c *LinearClassifier) Predict(f Features) Prediction {
	if c == nil || len(c.labels) == 0 {
		return Prediction{Label: UnknownLabel, Unknown: true}
	}
	scores := make([]float64, len(c.labels))
	top := math.Inf(-1)
	for i, lw := range c.weights {
		scores[i] = lw.Score(f)
		top = math.Max(top, scores[i])
	}
	var z float64
	for i := range scores {
		scores[i] = math.Exp(scores[i] - top)
		z += scores[i]
	}
	if z == 0 {
		z = 1
	}
	probs := make(map[string]float64, len(c.labels))
	best := 0
	for i, l := range c.labels {
		scores[i] /= z
		probs[l] = scores[i]
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Prediction{Label: c.labels[best], Confidence: scores[best], Probs: probs}
}
