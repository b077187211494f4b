// Package memory holds the conversational memory tiers: the short-term
// ring, semantic facts and topics, episodes, the inverted index, and the
// Store façade that persists them under one data directory.
package memory

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is immutable once written.
type Turn struct {
	ID   int64          `json:"turn_id"`
	Time time.Time      `json:"ts"`
	Role string         `json:"role"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// ShortTerm is a fixed-capacity ring of the most recent turns.
type ShortTerm struct {
	buf   []Turn
	start int
	n     int
}

func NewShortTerm(capacity int) *ShortTerm {
	if capacity <= 0 {
		capacity = 1
	}
	return &ShortTerm{buf: make([]Turn, capacity)}
}

// Add appends a turn, evicting the oldest one when full.
func (s *ShortTerm) Add(t Turn) {
	c := len(s.buf)
	if s.n < c {
		s.buf[(s.start+s.n)%c] = t
		s.n++
		return
	}
	s.buf[s.start] = t
	s.start = (s.start + 1) % c
}

// Last returns up to n most recent turns, oldest first.
func (s *ShortTerm) Last(n int) []Turn {
	if n <= 0 {
		return nil
	}
	n = min(n, s.n)
	out := make([]Turn, 0, n)
	for i := s.n - n; i < s.n; i++ {
		out = append(out, s.buf[(s.start+i)%len(s.buf)])
	}
	return out
}

func (s *ShortTerm) All() []Turn { return s.Last(s.n) }

// LastUser returns the most recent user turn.
func (s *ShortTerm) LastUser() (Turn, bool) {
	for i := s.n - 1; i >= 0; i-- {
		if t := s.buf[(s.start+i)%len(s.buf)]; t.Role == RoleUser {
			return t, true
		}
	}
	return Turn{}, false
}

// LastAssistant returns the most recent assistant turn.
func (s *ShortTerm) LastAssistant() (Turn, bool) {
	for i := s.n - 1; i >= 0; i-- {
		if t := s.buf[(s.start+i)%len(s.buf)]; t.Role == RoleAssistant {
			return t, true
		}
	}
	return Turn{}, false
}

func (s *ShortTerm) Len() int { return s.n }

func (s *ShortTerm) Cap() int { return len(s.buf) }

func (s *ShortTerm) Clear() {
	clear(s.buf)
	s.start, s.n = 0, 0
}
