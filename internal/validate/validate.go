// Package validate performs structural validation of submitted intents and
// holds the static role-based access table. Validation returns the full
// itemized list of violations rather than the first failure so callers can
// render field-level errors.
package validate

import (
	"fmt"
	"strings"

	"github.com/quantfabric/opscore/internal/intent"
)

// Config carries the domain vocabulary the validator checks params against.
type Config struct {
	Phases     []string // known strategy phases for THROTTLE_PHASE
	Modes      []string // known trading modes for SET_MODE
	RiskParams []string // overridable risk limits for OVERRIDE_RISK
}

// Validator checks submissions for structural correctness.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Check returns all structural violations in sub. An empty slice means the
// submission is well formed.
func (v *Validator) Check(sub intent.Submission) []intent.Violation {
	var out []intent.Violation

	if strings.TrimSpace(sub.ID) == "" {
		out = append(out, intent.Violation{Field: "id", Message: "id is required"})
	}
	if strings.TrimSpace(sub.IdempotencyKey) == "" {
		out = append(out, intent.Violation{Field: "idempotency_key", Message: "idempotency_key is required"})
	}
	if sub.Version != intent.Version {
		out = append(out, intent.Violation{
			Field:   "version",
			Message: fmt.Sprintf("version must be %d", intent.Version),
		})
	}
	if !intent.Known(sub.Type) {
		out = append(out, intent.Violation{
			Field:   "type",
			Message: fmt.Sprintf("type must be one of %v", intent.Types()),
		})
	}
	if strings.TrimSpace(sub.OperatorID) == "" {
		out = append(out, intent.Violation{Field: "operator_id", Message: "operator_id must be a non-empty string"})
	}
	if sub.TTLSeconds < 0 {
		out = append(out, intent.Violation{Field: "ttl_seconds", Message: "ttl_seconds must not be negative"})
	}

	// Per-type param checks only make sense for a known type.
	if intent.Known(sub.Type) {
		out = append(out, v.checkParams(sub.Type, sub.Params)...)
	}
	return out
}

func (v *Validator) checkParams(typ intent.Type, params map[string]any) []intent.Violation {
	var out []intent.Violation
	switch typ {
	case intent.TypeSetMode:
		mode, ok := stringParam(params, "mode")
		if !ok || !contains(v.cfg.Modes, mode) {
			out = append(out, intent.Violation{
				Field:   "params.mode",
				Message: fmt.Sprintf("mode must be one of %v", v.cfg.Modes),
			})
		}
	case intent.TypeThrottlePhase:
		phase, ok := stringParam(params, "phase")
		if !ok || !contains(v.cfg.Phases, phase) {
			out = append(out, intent.Violation{
				Field:   "params.phase",
				Message: fmt.Sprintf("phase must be one of %v", v.cfg.Phases),
			})
		}
		pct, ok := numberParam(params, "pct")
		if !ok || pct <= 0 || pct > 100 {
			out = append(out, intent.Violation{
				Field:   "params.pct",
				Message: "pct must be a number in (0, 100]",
			})
		}
	case intent.TypeOverrideRisk:
		param, ok := stringParam(params, "param")
		if !ok || !contains(v.cfg.RiskParams, param) {
			out = append(out, intent.Violation{
				Field:   "params.param",
				Message: fmt.Sprintf("param must be one of %v", v.cfg.RiskParams),
			})
		}
		if _, ok := numberParam(params, "value"); !ok {
			out = append(out, intent.Violation{
				Field:   "params.value",
				Message: "value must be a number",
			})
		}
	case intent.TypeFlatten:
		// symbol is optional; when present it must be a string.
		if raw, has := params["symbol"]; has {
			if _, ok := raw.(string); !ok {
				out = append(out, intent.Violation{
					Field:   "params.symbol",
					Message: "symbol must be a string",
				})
			}
		}
	}
	return out
}

// rbacTable maps role -> intent types it may submit. Observers submit
// nothing; operators get all non-capital-risk types; risk owners get
// everything.
var rbacTable = map[intent.Role]map[intent.Type]bool{
	intent.RoleObserver: {},
	intent.RoleOperator: {
		intent.TypeArm:           true,
		intent.TypeDisarm:        true,
		intent.TypeSetMode:       true,
		intent.TypeThrottlePhase: true,
		intent.TypeRunReconcile:  true,
	},
	intent.RoleRiskOwner: {
		intent.TypeArm:           true,
		intent.TypeDisarm:        true,
		intent.TypeSetMode:       true,
		intent.TypeThrottlePhase: true,
		intent.TypeRunReconcile:  true,
		intent.TypeFlatten:       true,
		intent.TypeOverrideRisk:  true,
	},
}

// RoleAllows reports whether role may submit intents of type typ. Unknown
// roles are allowed nothing.
func RoleAllows(role intent.Role, typ intent.Type) bool {
	return rbacTable[role][typ]
}

func stringParam(params map[string]any, key string) (string, bool) {
	raw, has := params[key]
	if !has {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// numberParam accepts float64 (decoded JSON), int, and json-free int64
// values supplied by in-process callers.
func numberParam(params map[string]any, key string) (float64, bool) {
	raw, has := params[key]
	if !has {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
