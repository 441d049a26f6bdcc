// Package fusion combines the classifier confidence and the heuristic
// threat score into a single verdict.
package fusion

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procwarden-project/procwarden/internal/classifier"
	"github.com/procwarden-project/procwarden/internal/core"
)

// Tunables are the decision thresholds. All four are configuration, not
// constants.
type Tunables struct {
	DetectionThreshold   float64
	HardHeuristicCeiling int
	MLSoftFloor          float64
	HeuristicSoftFloor   int
}

// DefaultTunables mirrors DetectionConfig defaults.
func DefaultTunables() Tunables {
	return Tunables{
		DetectionThreshold:   0.5,
		HardHeuristicCeiling: 70,
		MLSoftFloor:          0.4,
		HeuristicSoftFloor:   50,
	}
}

// Decider produces verdicts. It is stateless apart from its tunables and
// safe for concurrent use.
type Decider struct {
	tun Tunables
}

// NewDecider builds a Decider from detection config thresholds.
func NewDecider(cfg *core.DetectionConfig) *Decider {
	return &Decider{tun: Tunables{
		DetectionThreshold:   cfg.DetectionThreshold,
		HardHeuristicCeiling: cfg.HardHeuristicCeiling,
		MLSoftFloor:          cfg.MLSoftFloor,
		HeuristicSoftFloor:   cfg.HeuristicSoftFloor,
	}}
}

// NewDeciderWith builds a Decider with explicit tunables.
func NewDeciderWith(tun Tunables) *Decider {
	return &Decider{tun: tun}
}

// Decide fuses one analysis pass into a verdict. Deterministic: the same
// (heuristicScore, result) pair always yields the same IsMalicious.
//
// The classifier can clear a verdict with a benign label, but never when
// the heuristic score alone exceeds the hard ceiling: categorically
// dangerous primitives are not reasoned away by model uncertainty.
func (d *Decider) Decide(pid int, heuristicScore int, res classifier.Result, tokens []string) core.Verdict {
	fused := (res.Confidence + float64(heuristicScore)/100) / 2

	malicious := fused > d.tun.DetectionThreshold ||
		heuristicScore > d.tun.HardHeuristicCeiling ||
		(res.Confidence > d.tun.MLSoftFloor && heuristicScore > d.tun.HeuristicSoftFloor)

	if strings.EqualFold(res.Label, "benign") && heuristicScore <= d.tun.HardHeuristicCeiling {
		malicious = false
	}

	return core.Verdict{
		ID:                   uuid.New().String(),
		PID:                  pid,
		ClassifierLabel:      res.Label,
		ClassifierConfidence: res.Confidence,
		HeuristicScore:       heuristicScore,
		FusedConfidence:      fused,
		IsMalicious:          malicious,
		ContributingTokens:   append([]string(nil), tokens...),
		DecidedAt:            time.Now().UTC(),
	}
}
