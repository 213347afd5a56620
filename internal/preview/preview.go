// Package preview computes the would-be impact of an intent without mutating
// anything. The control service layers the in-flight, RBAC, and state-hash
// checks on top; this package only answers "what would it touch".
package preview

import (
	"fmt"

	"github.com/quantfabric/opscore/internal/intent"
)

// Posture is the read-only view of system state the impact computation needs.
// *posture.Engine satisfies it.
type Posture interface {
	Armed() bool
	Mode() string
	Phases() []string
	Exposure(symbol string) float64
	GrossExposure() float64
	Limit(param string) float64
}

// Impact computes the risk delta and blast radius for an intent of the given
// type. It never mutates p.
func Impact(p Posture, typ intent.Type, params map[string]any) (intent.RiskDelta, intent.BlastRadius) {
	phases := p.Phases()

	switch typ {
	case intent.TypeArm:
		return intent.RiskDelta{
				PostureChange:  postureChange(p.Armed(), true),
				AffectedPhases: phases,
			}, intent.BlastRadius{Phases: phases}

	case intent.TypeDisarm:
		return intent.RiskDelta{
				PostureChange:  postureChange(p.Armed(), false),
				AffectedPhases: phases,
			}, intent.BlastRadius{Phases: phases}

	case intent.TypeSetMode:
		mode, _ := params["mode"].(string)
		return intent.RiskDelta{
				PostureChange:  fmt.Sprintf("%s → %s", p.Mode(), mode),
				AffectedPhases: phases,
			}, intent.BlastRadius{Phases: phases}

	case intent.TypeThrottlePhase:
		phase, _ := params["phase"].(string)
		pct := number(params["pct"])
		return intent.RiskDelta{
				ThrottleDelta:  -pct,
				AffectedPhases: []string{phase},
			}, intent.BlastRadius{Phases: []string{phase}}

	case intent.TypeRunReconcile:
		return intent.RiskDelta{
				EstimatedNotional: p.GrossExposure(),
			}, intent.BlastRadius{}

	case intent.TypeFlatten:
		symbols := []string{"ALL"}
		notional := p.GrossExposure()
		if s, ok := params["symbol"].(string); ok && s != "" {
			symbols = []string{s}
			notional = p.Exposure(s)
		}
		return intent.RiskDelta{
				PostureChange:     "→ halted",
				AffectedSymbols:   symbols,
				EstimatedNotional: notional,
			}, intent.BlastRadius{Phases: phases, Symbols: symbols}

	case intent.TypeOverrideRisk:
		param, _ := params["param"].(string)
		value := number(params["value"])
		return intent.RiskDelta{
				PostureChange:  fmt.Sprintf("%s %.2f → %.2f", param, p.Limit(param), value),
				AffectedPhases: phases,
			}, intent.BlastRadius{Phases: phases}
	}

	return intent.RiskDelta{}, intent.BlastRadius{}
}

// number coerces the numeric types params arrive as: float64 from JSON
// decoding, int or int64 from in-process callers.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func postureChange(prevArmed, nextArmed bool) string {
	return fmt.Sprintf("%s → %s", armedWord(prevArmed), armedWord(nextArmed))
}

func armedWord(armed bool) string {
	if armed {
		return "armed"
	}
	return "disarmed"
}
