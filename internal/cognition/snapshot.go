package cognition

import (
	"fmt"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

// ArtifactSource supplies classifiers and priors. *artifact.Cache
// implements it.
type ArtifactSource interface {
	Classifier(task nlp.Task) (*nlp.LinearClassifier, error)
	Priors() artifact.Priors
}

type IntentResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is the immutable per-message inference record.
type Snapshot struct {
	Text          string              `json:"-"`
	Normalized    string              `json:"-"`
	Tokens        []string            `json:"-"`
	Sentences     int                 `json:"sentences"`
	Sentiment     nlp.SentimentResult `json:"sentiment"`
	Intent        IntentResult        `json:"intent"`
	Sarcasm       nlp.SarcasmResult   `json:"sarcasm"`
	Threat        nlp.ThreatResult    `json:"threat"`
	Masking       MaskingResult       `json:"masking"`
	Hidden        HiddenResult        `json:"hidden"`
	Claims        []Claim             `json:"claims"`
	Contradiction *Contradiction      `json:"contradiction"`
}

// Analyzer builds snapshots for one locale.
type Analyzer struct {
	bundle     *locale.Bundle
	extractor  *nlp.Extractor
	normalizer *nlp.Normalizer
	artifacts  ArtifactSource
}

func NewAnalyzer(b *locale.Bundle, artifacts ArtifactSource) *Analyzer {
	return &Analyzer{
		bundle:     b,
		extractor:  nlp.NewExtractor(b),
		normalizer: nlp.NewNormalizer(b.Rules),
		artifacts:  artifacts,
	}
}

// Extractor exposes the feature extractor bound to the analyzer's locale.
func (a *Analyzer) Extractor() *nlp.Extractor { return a.extractor }

// Normalize applies the locale normalisation rules.
func (a *Analyzer) Normalize(text string) string { return a.normalizer.Normalize(text) }

// Snapshot runs the full inference pipeline on text. known is the
// contradiction baseline; a nil or empty baseline skips contradiction
// scoring.
func (a *Analyzer) Snapshot(text string, known []Claim) (*Snapshot, error) {
	normalized := a.normalizer.Normalize(text)
	feats := a.extractor.Extract(normalized)

	preds := make(map[nlp.Task]nlp.Prediction, len(nlp.Tasks))
	for _, task := range nlp.Tasks {
		clf, err := a.artifacts.Classifier(task)
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", task, err)
		}
		preds[task] = clf.Predict(feats)
	}
	priors := a.artifacts.Priors()

	s := &Snapshot{
		Text:       text,
		Normalized: normalized,
		Tokens:     a.extractor.Tokens(normalized),
		Sentences:  len(nlp.SplitSentences(normalized, a.bundle.Abbreviations)),
		Sentiment:  nlp.Sentiment(preds[nlp.TaskSentiment]),
		Intent: IntentResult{
			Label:      preds[nlp.TaskIntent].Label,
			Confidence: preds[nlp.TaskIntent].Confidence,
		},
		Sarcasm: nlp.Sarcasm(preds[nlp.TaskSarcasm]),
		Threat:  nlp.ClassifyThreat(normalized, preds[nlp.TaskThreat]),
		Masking: Masking(feats, priors),
		Hidden:  HiddenDistress(feats, priors),
		Claims:  ExtractClaims(normalized),
	}
	if len(known) > 0 {
		c := ContradictionScore(s.Claims, known)
		s.Contradiction = &c
	}
	return s, nil
}

// ContradictionScoreOrZero returns the contradiction score, or 0 when none
// was computed.
func (s *Snapshot) ContradictionScoreOrZero() float64 {
	if s.Contradiction == nil {
		return 0
	}
	return s.Contradiction.Score
}
