package governor

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type Level string

const (
	LevelNone  Level = "none"
	LevelLight Level = "light"
	LevelHard  Level = "hard"
)

const (
	lightRetrievalTurns = 4
	lightScanTailLines  = 2000
)

// Budget holds the load thresholds and the undegraded retrieval depth.
type Budget struct {
	CPU            float64
	Mem            float64
	HardCPU        float64
	HardMem        float64
	Critical       float64
	RetrievalTurns int
	ScanTailLines  int
}

func DefaultBudget() Budget {
	return Budget{
		CPU:            50,
		Mem:            50,
		HardCPU:        70,
		HardMem:        70,
		Critical:       85,
		RetrievalTurns: 10,
		ScanTailLines:  8000,
	}
}

// Hints tell the dialogue policy how much work it may do.
type Hints struct {
	Level          Level `json:"level"`
	RetrievalTurns int   `json:"retrieval_limit_turns"`
	ScanTailLines  int   `json:"scan_tail_lines"`
	AllowProactive bool  `json:"allow_proactive"`
	AllowActions   bool  `json:"allow_actions"`
}

// HintsFor maps a snapshot to hints. Within budget nothing degrades;
// both readings past the hard ceiling, or either past the critical one,
// disables retrieval and every optional behaviour; anything in between
// shrinks retrieval and disables proactive prompts and actions.
func HintsFor(s Snapshot, b Budget) Hints {
	cpu, mem := s.CPUPercent, s.MemPercent
	switch {
	case cpu <= b.CPU && mem <= b.Mem:
		return Hints{
			Level:          LevelNone,
			RetrievalTurns: b.RetrievalTurns,
			ScanTailLines:  b.ScanTailLines,
			AllowProactive: true,
			AllowActions:   true,
		}
	case (cpu > b.HardCPU && mem > b.HardMem) || cpu >= b.Critical || mem >= b.Critical:
		return Hints{Level: LevelHard}
	default:
		return Hints{
			Level:          LevelLight,
			RetrievalTurns: min(lightRetrievalTurns, b.RetrievalTurns),
			ScanTailLines:  min(lightScanTailLines, b.ScanTailLines),
		}
	}
}

// Governor caches the latest sample; an admin session bypasses it.
type Governor struct {
	sampler Sampler
	budget  Budget
	logger  *zap.Logger

	mu    sync.RWMutex
	last  Snapshot
	admin atomic.Bool
}

func New(sampler Sampler, budget Budget, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{sampler: sampler, budget: budget, logger: logger}
}

// Refresh takes a new sample. On error the previous sample is kept.
func (g *Governor) Refresh(ctx context.Context) (Snapshot, error) {
	s, err := g.sampler.Sample(ctx)
	if err != nil {
		g.logger.Warn("resource sample failed", zap.Error(err))
		return g.Last(), err
	}
	g.mu.Lock()
	g.last = s
	g.mu.Unlock()
	return s, nil
}

func (g *Governor) Last() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last
}

func (g *Governor) Hints() Hints {
	if g.admin.Load() {
		return HintsFor(Snapshot{}, g.budget)
	}
	return HintsFor(g.Last(), g.budget)
}

// UnderCritical reports whether both readings sit below the critical
// ceiling.
func (g *Governor) UnderCritical() bool {
	s := g.Last()
	return s.CPUPercent < g.budget.Critical && s.MemPercent < g.budget.Critical
}

func (g *Governor) SetAdmin(on bool) { g.admin.Store(on) }

func (g *Governor) Admin() bool { return g.admin.Load() }

func (g *Governor) Budget() Budget { return g.budget }
