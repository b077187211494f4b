package memory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

const (
	episodeTopTerms = 8
	episodeMinTerm  = 4
	termTrimChars   = "._-,'\"!?()[]{}<>:;"
)

type Episode struct {
	ID          int64     `json:"episode_id"`
	Start       time.Time `json:"started_at"`
	End         time.Time `json:"ended_at"`
	Summary     string    `json:"summary"`
	TopTerms    []string  `json:"top_terms"`
	AvgDistress float64   `json:"distress_avg"`
}

// Episodic accumulates the open episode and appends closed ones to a
// JSONL log.
type Episodic struct {
	path     string
	seg      *nlp.Segmenter
	gap      time.Duration
	episodes []Episode
	nextID   int64

	openSince time.Time
	texts     []string
	distress  []float64
	lastTurn  time.Time
}

func openEpisodic(path string, seg *nlp.Segmenter, gap time.Duration, lastTurn time.Time) (*Episodic, error) {
	e := &Episodic{path: path, seg: seg, gap: gap, nextID: 1, lastTurn: lastTurn}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open episodes: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ep Episode
		if err := json.Unmarshal([]byte(line), &ep); err != nil {
			return nil, fmt.Errorf("parse episode: %w", err)
		}
		e.episodes = append(e.episodes, ep)
		e.nextID = max(e.nextID, ep.ID+1)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan episodes: %w", err)
	}
	return e, nil
}

// Track adds a turn to the open episode. A gap longer than the episode
// gap since the previous turn closes the open episode first; the closed
// episode is returned.
func (e *Episodic) Track(text string, distress float64, now time.Time) (*Episode, error) {
	var (
		closed *Episode
		err    error
	)
	if e.openSince.IsZero() {
		e.openSince = now
	}
	if !e.lastTurn.IsZero() && now.Sub(e.lastTurn) > e.gap {
		closed, err = e.Close(now)
		e.openSince = now
	}
	e.texts = append(e.texts, text)
	e.distress = append(e.distress, distress)
	e.lastTurn = now
	return closed, err
}

// Close ends the open episode, if any turns were tracked.
func (e *Episodic) Close(now time.Time) (*Episode, error) {
	if e.openSince.IsZero() {
		return nil, nil
	}
	defer func() {
		e.openSince = time.Time{}
		e.texts, e.distress = nil, nil
	}()
	if len(e.texts) == 0 {
		return nil, nil
	}
	ep, err := e.add(e.openSince, now, e.texts, e.distress)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// CloseIdle closes the open episode when its last turn is older than idle.
func (e *Episodic) CloseIdle(now time.Time, idle time.Duration) (*Episode, error) {
	if e.openSince.IsZero() || now.Sub(e.lastTurn) < idle {
		return nil, nil
	}
	return e.Close(now)
}

func (e *Episodic) IsOpen() bool { return !e.openSince.IsZero() }

func (e *Episodic) add(start, end time.Time, texts []string, distress []float64) (Episode, error) {
	terms := topTerms(e.seg, texts, episodeTopTerms)
	var sum float64
	for _, d := range distress {
		sum += d
	}
	avg := sum / float64(max(1, len(distress)))

	ep := Episode{
		ID:          e.nextID,
		Start:       start,
		End:         end,
		Summary:     summarize(avg, terms),
		TopTerms:    terms,
		AvgDistress: avg,
	}
	e.nextID++
	e.episodes = append(e.episodes, ep)

	if err := appendJSONL(e.path, ep); err != nil {
		return ep, fmt.Errorf("append episode: %w", err)
	}
	return ep, nil
}

func summarize(avg float64, terms []string) string {
	lead := strings.Join(terms[:min(3, len(terms))], ", ")
	switch {
	case avg >= 0.65:
		return "Heavy episode touching " + lead + "."
	case avg >= 0.40:
		return "Mixed episode around " + lead + "."
	default:
		return "Light episode about " + lead + "."
	}
}

// topTerms ranks tokens of at least four runes by frequency; ties keep
// first-seen order.
func topTerms(seg *nlp.Segmenter, texts []string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, text := range texts {
		for _, tok := range seg.Tokens(text) {
			t := strings.Trim(strings.ToLower(tok), termTrimChars)
			if len([]rune(t)) < episodeMinTerm {
				continue
			}
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Recent returns up to n latest episodes, oldest first.
func (e *Episodic) Recent(n int) []Episode {
	if n <= 0 {
		return nil
	}
	from := max(0, len(e.episodes)-n)
	return append([]Episode(nil), e.episodes[from:]...)
}

func (e *Episodic) Len() int { return len(e.episodes) }

func appendJSONL(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode line: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
