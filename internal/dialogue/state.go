package dialogue

import (
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/sentiencex/internal/locale"
)

const neverTurn = -999

// State is the per-session counter set used for cooldown gating. It is not
// persisted.
type State struct {
	SessionID         string    `json:"session_id"`
	TurnCount         int       `json:"turn_count"`
	LastUser          time.Time `json:"last_user_ts"`
	LastAI            time.Time `json:"last_ai_ts"`
	LastTone          string    `json:"last_tone"`
	LastTemplateID    string    `json:"last_template_id"`
	LastAdviceTurn    int       `json:"last_advice_turn"`
	LastProactiveTurn int       `json:"last_proactive_turn"`
	LastProactive     time.Time `json:"last_proactive_ts"`
}

func NewState() *State {
	return &State{
		SessionID:         uuid.NewString(),
		LastTone:          locale.ToneNormal,
		LastAdviceTurn:    neverTurn,
		LastProactiveTurn: neverTurn,
	}
}

func (s *State) BumpUser(now time.Time) {
	s.TurnCount++
	s.LastUser = now
}

func (s *State) BumpAI(now time.Time, tone, templateID string) {
	s.TurnCount++
	s.LastAI = now
	s.LastTone = tone
	s.LastTemplateID = templateID
}
