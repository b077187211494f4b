package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

const (
	indexMinTerm     = 3
	indexNoiseLen    = 24
	searchPostingCap = 400
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "at": {}, "by": {}, "from": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {}, "that": {}, "this": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "me": {}, "my": {}, "your": {}, "our": {},
}

// Index is an append-only inverted index over turn ids.
type Index struct {
	Postings map[string][]int64 `json:"postings"`
	DocFreq  map[string]int     `json:"doc_freq"`
	DocCount int                `json:"doc_count"`
}

type Hit struct {
	DocID int64
	Score float64
}

func NewIndex() *Index {
	return &Index{Postings: make(map[string][]int64), DocFreq: make(map[string]int)}
}

func indexTerms(seg *nlp.Segmenter, text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range seg.Tokens(text) {
		t := strings.Trim(strings.ToLower(tok), termTrimChars)
		if len([]rune(t)) < indexMinTerm {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		if len([]rune(t)) > indexNoiseLen && strings.ContainsFunc(t, unicode.IsDigit) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// AddDocument indexes text under id. Postings dedupe only against the
// preceding id; every call counts as one document.
func (ix *Index) AddDocument(seg *nlp.Segmenter, id int64, text string) {
	for _, term := range indexTerms(seg, text) {
		list := ix.Postings[term]
		if len(list) == 0 || list[len(list)-1] != id {
			ix.Postings[term] = append(list, id)
		}
		ix.DocFreq[term]++
	}
	ix.DocCount++
}

func (ix *Index) IDF(term string) float64 {
	return math.Log(float64(1+ix.DocCount)/float64(1+ix.DocFreq[term])) + 1
}

// Search scores documents by the summed idf of matched query terms over
// the most recent postings of each term. Ties go to the newer document.
func (ix *Index) Search(seg *nlp.Segmenter, query string, limit int) []Hit {
	if limit <= 0 {
		return nil
	}
	scores := make(map[int64]float64)
	for _, term := range indexTerms(seg, query) {
		list := ix.Postings[term]
		if len(list) > searchPostingCap {
			list = list[len(list)-searchPostingCap:]
		}
		w := ix.IDF(term)
		for _, id := range list {
			scores[id] += w
		}
	}
	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{DocID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID > hits[j].DocID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (ix *Index) Terms() int { return len(ix.Postings) }

func loadIndex(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	ix := NewIndex()
	if err := json.Unmarshal(raw, ix); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if ix.Postings == nil {
		ix.Postings = make(map[string][]int64)
	}
	if ix.DocFreq == nil {
		ix.DocFreq = make(map[string]int)
	}
	return ix, nil
}

func (ix *Index) flush(path string) error {
	return writeJSON(path, ix)
}
