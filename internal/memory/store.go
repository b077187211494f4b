package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/sentiencex/internal/cognition"
	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

const (
	TurnsFile     = "turns.jsonl"
	FeedbackFile  = "feedback.jsonl"
	SemanticFile  = "semantic.json"
	IndexFile     = "index.json"
	EpisodesFile  = "episodes.jsonl"
	minScanLines  = 500
	recentEpisode = 6
)

// Publisher receives telemetry events. *bus.EventBus implements it.
type Publisher interface {
	Publish(name string, data map[string]any)
}

type Options struct {
	Dir           string
	Bundle        *locale.Bundle
	STMTurns      int
	LoadTailLines int
	EpisodeGap    time.Duration
	Events        Publisher
	Logger        *zap.Logger
	Now           func() time.Time
}

// Retrieved is the context recalled for one message.
type Retrieved struct {
	Turns    []Turn            `json:"turns"`
	Episodes []Episode         `json:"episodes"`
	Facts    []cognition.Claim `json:"facts"`
}

type Stats struct {
	ShortTerm   int    `json:"stm"`
	Facts       int    `json:"facts"`
	Topics      int    `json:"topics"`
	Unresolved  int    `json:"unresolved"`
	IndexDocs   int    `json:"index_docs"`
	IndexTerms  int    `json:"index_terms"`
	Episodes    int    `json:"episodes"`
	NextTurnID  int64  `json:"next_turn_id"`
	WriteErrors uint64 `json:"write_errors"`
}

// Store coordinates every memory tier. It assumes a single writer.
type Store struct {
	dir      string
	seg      *nlp.Segmenter
	events   Publisher
	logger   *zap.Logger
	now      func() time.Time
	stm      *ShortTerm
	semantic *Semantic
	episodes *Episodic
	index    *Index
	nextID   int64

	warn      rate.Sometimes
	writeErrs atomic.Uint64
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

func Open(opts Options) (*Store, error) {
	if opts.Bundle == nil {
		return nil, errors.New("open memory: locale bundle is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.STMTurns <= 0 {
		opts.STMTurns = 18
	}
	if opts.LoadTailLines <= 0 {
		opts.LoadTailLines = 2000
	}
	if opts.EpisodeGap <= 0 {
		opts.EpisodeGap = 2 * time.Hour
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		dir:    opts.Dir,
		seg:    nlp.NewSegmenter(opts.Bundle.Alphabet),
		events: opts.Events,
		logger: opts.Logger,
		now:    opts.Now,
		stm:    NewShortTerm(opts.STMTurns),
		nextID: 1,
		warn:   rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}

	var err error
	if s.semantic, err = loadSemantic(s.path(SemanticFile)); err != nil {
		return nil, err
	}
	if s.index, err = loadIndex(s.path(IndexFile)); err != nil {
		return nil, err
	}
	if s.episodes, err = openEpisodic(s.path(EpisodesFile), s.seg, opts.EpisodeGap, s.semantic.LastTurn); err != nil {
		return nil, err
	}
	if err := s.loadShortTerm(opts.LoadTailLines); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) loadShortTerm(tail int) error {
	lines, err := tailLines(s.path(TurnsFile), tail)
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	for _, line := range lines {
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil {
			s.logger.Warn("skip corrupt turn line", zap.Error(err))
			continue
		}
		s.stm.Add(t)
		s.nextID = max(s.nextID, t.ID+1)
	}
	return nil
}

// persistFailed logs a swallowed write error, throttled.
func (s *Store) persistFailed(what string, err error) {
	s.writeErrs.Add(1)
	s.warn.Do(func() {
		s.logger.Warn("memory persistence failed", zap.String("target", what), zap.Error(err))
	})
}

// AddTurn appends a turn to the log, the short-term ring and the index.
func (s *Store) AddTurn(role, text string, meta map[string]any) Turn {
	t := Turn{ID: s.nextID, Time: s.now(), Role: role, Text: text, Meta: meta}
	s.nextID++

	if err := appendJSONL(s.path(TurnsFile), t); err != nil {
		s.persistFailed(TurnsFile, err)
	}
	s.stm.Add(t)
	s.index.AddDocument(s.seg, t.ID, t.Text)

	s.events.Publish("memory.turn", map[string]any{"turn_id": t.ID, "role": role})
	return t
}

// UpdateSemantic merges claims, topic salience and distress, then saves
// the semantic snapshot.
func (s *Store) UpdateSemantic(claims []cognition.Claim, salience map[string]float64, distress float64) {
	now := s.now()
	s.semantic.UpdateFacts(claims, now)
	s.semantic.UpdateTopics(salience, now)
	s.semantic.UpdateEmotions(distress)
	s.semantic.LastTurn = now
	if err := s.semantic.save(s.path(SemanticFile)); err != nil {
		s.persistFailed(SemanticFile, err)
	}
	s.events.Publish("memory.semantic", map[string]any{
		"facts":  len(s.semantic.Facts),
		"topics": len(s.semantic.Topics),
	})
}

// AddFeedback appends a timestamped copy of payload to the feedback log.
func (s *Store) AddFeedback(payload map[string]any) {
	rec := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		rec[k] = v
	}
	rec["ts"] = s.now()
	if err := appendJSONL(s.path(FeedbackFile), rec); err != nil {
		s.persistFailed(FeedbackFile, err)
	}
	s.events.Publish("memory.feedback", map[string]any{"kind": payload["kind"]})
}

// Retrieve recalls turns related to query. Index hits are materialized by
// a backward scan bounded to the last max(500, scanTailLines) log lines.
// Without hits only the known facts are returned.
func (s *Store) Retrieve(query string, limitTurns, scanTailLines int) Retrieved {
	out := Retrieved{Facts: s.semantic.FactsCopy()}
	hits := s.index.Search(s.seg, query, limitTurns)
	if len(hits) == 0 {
		return out
	}
	ids := make(map[int64]struct{}, len(hits))
	for _, h := range hits {
		ids[h.DocID] = struct{}{}
	}

	lines, err := tailLines(s.path(TurnsFile), max(minScanLines, scanTailLines))
	if err != nil {
		s.persistFailed(TurnsFile, err)
	}
	for i := len(lines) - 1; i >= 0 && len(out.Turns) < limitTurns; i-- {
		var t Turn
		if err := json.Unmarshal(lines[i], &t); err != nil {
			continue
		}
		if _, ok := ids[t.ID]; ok {
			out.Turns = append(out.Turns, t)
		}
	}
	sort.Slice(out.Turns, func(i, j int) bool { return out.Turns[i].ID < out.Turns[j].ID })
	out.Episodes = s.episodes.Recent(recentEpisode)
	return out
}

// TrackEpisodeTurn feeds a user turn into the open episode.
func (s *Store) TrackEpisodeTurn(text string, distress float64) {
	ep, err := s.episodes.Track(text, distress, s.now())
	s.episodeClosed(ep, err)
}

// CloseIdleEpisode closes the open episode once its last turn is older
// than idle.
func (s *Store) CloseIdleEpisode(idle time.Duration) *Episode {
	ep, err := s.episodes.CloseIdle(s.now(), idle)
	s.episodeClosed(ep, err)
	return ep
}

func (s *Store) episodeClosed(ep *Episode, err error) {
	if err != nil {
		s.persistFailed(EpisodesFile, err)
	}
	if ep != nil {
		s.events.Publish("memory.episode", map[string]any{"episode_id": ep.ID, "summary": ep.Summary})
	}
}

// MarkResolved clears an unresolved topic and saves the snapshot.
func (s *Store) MarkResolved(topic string) bool {
	if !s.semantic.MarkResolved(topic) {
		return false
	}
	if err := s.semantic.save(s.path(SemanticFile)); err != nil {
		s.persistFailed(SemanticFile, err)
	}
	return true
}

// Compact flushes the index and semantic snapshots. The JSONL logs stay
// append-only.
func (s *Store) Compact() {
	if err := s.index.flush(s.path(IndexFile)); err != nil {
		s.persistFailed(IndexFile, err)
	}
	if err := s.semantic.save(s.path(SemanticFile)); err != nil {
		s.persistFailed(SemanticFile, err)
	}
	s.events.Publish("memory.compact", map[string]any{"doc_count": s.index.DocCount})
}

// Close force-closes the open episode and compacts.
func (s *Store) Close() {
	_, err := s.episodes.Close(s.now())
	if err != nil {
		s.persistFailed(EpisodesFile, err)
	}
	s.Compact()
}

func (s *Store) ShortTerm() *ShortTerm { return s.stm }

func (s *Store) Semantic() *Semantic { return s.semantic }

func (s *Store) Episodes() *Episodic { return s.episodes }

func (s *Store) Index() *Index { return s.index }

func (s *Store) Stats() Stats {
	return Stats{
		ShortTerm:   s.stm.Len(),
		Facts:       len(s.semantic.Facts),
		Topics:      len(s.semantic.Topics),
		Unresolved:  len(s.semantic.Unresolved),
		IndexDocs:   s.index.DocCount,
		IndexTerms:  s.index.Terms(),
		Episodes:    s.episodes.Len(),
		NextTurnID:  s.nextID,
		WriteErrors: s.writeErrs.Load(),
	}
}

const tailChunk = 64 << 10

// tailLines reads at most the last n non-empty lines of path without
// scanning the whole file. A missing file yields no lines.
func tailLines(path string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pos := st.Size()
	var buf []byte
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := min(int64(tailChunk), pos)
		pos -= step
		part := make([]byte, step)
		if _, err := f.ReadAt(part, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(part, buf...)
	}

	parts := bytes.Split(buf, []byte{'\n'})
	if pos > 0 {
		parts = parts[1:]
	}
	lines := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			lines = append(lines, p)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
