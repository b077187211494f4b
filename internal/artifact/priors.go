package artifact

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	hiddenPriorsFile    = "hidden_emotion_priors.json"
	maskingPatternsFile = "masking_patterns.json"
	withdrawalFile      = "social_withdrawal.json"
	proactivePriorsFile = "proactive_priors.json"
	policyPriorsFile    = "policy_priors.json"
)

var priorFiles = []string{hiddenPriorsFile, maskingPatternsFile, withdrawalFile, proactivePriorsFile, policyPriorsFile}

// Priors are the scalar documents mined offline. A zero value means "no
// adjustment" everywhere it is consulted.
type Priors struct {
	// HiddenDistressGivenMasking is P(hidden distress | masking markers).
	HiddenDistressGivenMasking float64
	// MaskingPattern is the same probability as seen by the masking miner.
	MaskingPattern float64
	// WithdrawalAfterDistress gates the withdrawal check-in heuristic.
	Withdrawal *WithdrawalRule
	// Policy maps "intent=X|sent=Y|hb=N" to per-tone score biases.
	Policy map[string]map[string]float64
}

type WithdrawalRule struct {
	P           float64 `json:"p"`
	MinDistress float64 `json:"min_distress"`
}

// PolicyBias returns the tone biases for key, or nil.
func (p Priors) PolicyBias(key string) map[string]float64 {
	if p.Policy == nil {
		return nil
	}
	return p.Policy[key]
}

type probabilityDoc struct {
	P *float64 `json:"p_hidden_distress_given_masking"`
}

type proactiveDoc struct {
	Rules struct {
		Withdrawal *WithdrawalRule `json:"withdrawal_after_distress"`
	} `json:"rules"`
}

type policyDoc struct {
	Priors map[string]map[string]float64 `json:"priors"`
}

func loadPriors(dir string, logger *zap.Logger) Priors {
	var p Priors

	var hidden probabilityDoc
	if readJSON(filepath.Join(dir, hiddenPriorsFile), &hidden, logger) && hidden.P != nil {
		p.HiddenDistressGivenMasking = *hidden.P
	}
	var masking probabilityDoc
	if readJSON(filepath.Join(dir, maskingPatternsFile), &masking, logger) && masking.P != nil {
		p.MaskingPattern = *masking.P
	}

	// The withdrawal rule may ship inside proactive_priors.json or on its own.
	var pro proactiveDoc
	if readJSON(filepath.Join(dir, proactivePriorsFile), &pro, logger) && pro.Rules.Withdrawal != nil {
		p.Withdrawal = pro.Rules.Withdrawal
	} else {
		var wd proactiveDoc
		if readJSON(filepath.Join(dir, withdrawalFile), &wd, logger) && wd.Rules.Withdrawal != nil {
			p.Withdrawal = wd.Rules.Withdrawal
		}
	}
	if p.Withdrawal != nil && p.Withdrawal.MinDistress == 0 {
		p.Withdrawal.MinDistress = 0.70
	}

	var pol policyDoc
	if readJSON(filepath.Join(dir, policyPriorsFile), &pol, logger) {
		p.Policy = pol.Priors
	}
	return p
}

// readJSON decodes path into v and reports success. Missing files are
// silent; corrupt ones are logged.
func readJSON(path string, v any, logger *zap.Logger) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read artifact", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warn("parse artifact", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
