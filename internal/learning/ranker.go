// Package learning adapts template choice and tone to the user from
// explicit ratings and reply latency.
package learning

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaArm is the Beta posterior of one template.
type BetaArm struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func newArm() *BetaArm { return &BetaArm{A: 1, B: 1} }

func (arm *BetaArm) sample(src rand.Source) float64 {
	return distuv.Beta{Alpha: arm.A, Beta: arm.B, Src: src}.Rand()
}

func (arm *BetaArm) update(success bool, weight float64) {
	if success {
		arm.A += weight
	} else {
		arm.B += weight
	}
}

// Mean is the expected success rate of the arm.
func (arm BetaArm) Mean() float64 { return arm.A / (arm.A + arm.B) }

// TemplateRanker is a Thompson-sampling bandit keyed by template id.
type TemplateRanker struct {
	Arms map[string]*BetaArm `json:"arms"`
}

func NewTemplateRanker() *TemplateRanker {
	return &TemplateRanker{Arms: make(map[string]*BetaArm)}
}

// Ensure seeds missing arms with Beta(1,1).
func (r *TemplateRanker) Ensure(ids ...string) {
	for _, id := range ids {
		if arm, ok := r.Arms[id]; !ok || arm == nil {
			r.Arms[id] = newArm()
		}
	}
}

// Pick draws one sample per candidate from a source seeded with seed and
// returns the best. The same seed and state always pick the same id.
func (r *TemplateRanker) Pick(ids []string, seed uint64) string {
	if len(ids) == 0 {
		return ""
	}
	r.Ensure(ids...)
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	best, bestID := -1.0, ids[0]
	for _, id := range ids {
		if s := r.Arms[id].sample(src); s > best {
			best, bestID = s, id
		}
	}
	return bestID
}

func (r *TemplateRanker) Update(id string, success bool, weight float64) {
	r.Ensure(id)
	r.Arms[id].update(success, weight)
}

// Arm returns a copy of the arm for id.
func (r *TemplateRanker) Arm(id string) (BetaArm, bool) {
	arm, ok := r.Arms[id]
	if !ok || arm == nil {
		return BetaArm{}, false
	}
	return *arm, true
}

func (r *TemplateRanker) Len() int { return len(r.Arms) }
