package dialogue

import (
	"time"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/memory"
)

// Proactive kinds.
const (
	ProactiveUnresolved = "unresolved"
	ProactiveTrend      = "trend"
	ProactiveWithdrawal = "withdrawal"
)

const (
	trendMinSalience   = 0.35
	withdrawalMinP     = 0.40
	withdrawalSlack    = 0.10
	withdrawalMaxAvg   = 8.5
	defaultMinDistress = 0.70
)

// Prompt is a check-in the assistant raises on its own.
type Prompt struct {
	Topic string `json:"topic"`
	Kind  string `json:"kind"`
}

type ProactiveConfig struct {
	MinTurns    int
	MinTurnGap  int
	MinHoursGap time.Duration
}

// ChooseProactive prefers the oldest unresolved topic, then the most
// salient topic after a quiet stretch, then a learned withdrawal pattern.
// It does not look at cooldowns; the caller gates on those.
func ChooseProactive(sem *memory.Semantic, priors artifact.Priors, avgTokens float64, gap time.Duration, now time.Time) *Prompt {
	if topic, ok := sem.OldestUnresolved(now, gap); ok {
		return &Prompt{Topic: topic, Kind: ProactiveUnresolved}
	}

	quiet := now.Sub(sem.LastTurn) >= gap
	top := sem.TopTopics(1)
	if len(top) > 0 && top[0].Salience >= trendMinSalience && quiet {
		return &Prompt{Topic: top[0].Topic, Kind: ProactiveTrend}
	}

	wd := priors.Withdrawal
	if wd == nil || wd.P < withdrawalMinP {
		return nil
	}
	minDistress := wd.MinDistress
	if minDistress == 0 {
		minDistress = defaultMinDistress
	}
	if sem.Distress() < minDistress-withdrawalSlack || avgTokens > withdrawalMaxAvg || !quiet {
		return nil
	}
	topic := "that"
	if len(top) > 0 {
		topic = top[0].Topic
	}
	return &Prompt{Topic: topic, Kind: ProactiveWithdrawal}
}
