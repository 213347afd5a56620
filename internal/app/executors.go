package app

import (
	"context"
	"fmt"

	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/posture"
)

// buildExecutors binds each intent type to its effect on the posture engine.
// Executors return a receipt describing what actually changed; intake
// validation already proved the params well-formed.
func buildExecutors(engine *posture.Engine) map[intent.Type]control.Executor {
	return map[intent.Type]control.Executor{
		intent.TypeArm: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			prev := engine.SetArmed(true, in.Reason)
			return intent.Receipt{
				Effect:     "System armed",
				PriorState: map[string]any{"armed": prev},
				NewState:   map[string]any{"armed": true},
			}, nil
		}),

		intent.TypeDisarm: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			prev := engine.SetArmed(false, in.Reason)
			return intent.Receipt{
				Effect:     "System disarmed",
				PriorState: map[string]any{"armed": prev},
				NewState:   map[string]any{"armed": false},
			}, nil
		}),

		intent.TypeSetMode: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			mode, _ := stringParam(in.Params, "mode")
			prev, err := engine.SetMode(mode)
			if err != nil {
				return intent.Receipt{}, err
			}
			return intent.Receipt{
				Effect:     fmt.Sprintf("Trading mode set to %s", mode),
				PriorState: map[string]any{"mode": prev},
				NewState:   map[string]any{"mode": mode},
			}, nil
		}),

		intent.TypeThrottlePhase: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			phase, _ := stringParam(in.Params, "phase")
			pct, _ := numberParam(in.Params, "pct")
			prev := engine.Throttle(phase)
			target := clampPct(prev - pct)
			if _, err := engine.SetThrottle(phase, target); err != nil {
				return intent.Receipt{}, err
			}
			return intent.Receipt{
				Effect:     fmt.Sprintf("Phase %s throttled by %.0f%%", phase, pct),
				PriorState: map[string]any{"phase": phase, "throttle": prev},
				NewState:   map[string]any{"phase": phase, "throttle": target},
			}, nil
		}),

		intent.TypeRunReconcile: control.ExecutorFunc(func(_ context.Context, _ intent.Intent) (intent.Receipt, error) {
			gross, clean := engine.Reconcile()
			effect := "Reconciliation complete: positions consistent"
			if !clean {
				effect = "Reconciliation complete: discrepancies found"
			}
			return intent.Receipt{
				Effect: effect,
				NewState: map[string]any{
					"gross_exposure_usd": gross,
					"clean":              clean,
				},
			}, nil
		}),

		intent.TypeFlatten: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			symbol, _ := stringParam(in.Params, "symbol")
			closed := engine.Flatten(symbol)
			scope := "all positions"
			if symbol != "" {
				scope = symbol
			}
			prior := make(map[string]any, len(closed))
			for sym, notional := range closed {
				prior[sym] = notional
			}
			return intent.Receipt{
				Effect:     fmt.Sprintf("Flattened %s, trading halted", scope),
				PriorState: map[string]any{"exposures": prior},
				NewState:   map[string]any{"halted": true},
			}, nil
		}),

		intent.TypeOverrideRisk: control.ExecutorFunc(func(_ context.Context, in intent.Intent) (intent.Receipt, error) {
			param, _ := stringParam(in.Params, "param")
			value, _ := numberParam(in.Params, "value")
			prev, err := engine.OverrideLimit(param, value)
			if err != nil {
				return intent.Receipt{}, err
			}
			return intent.Receipt{
				Effect:     fmt.Sprintf("Risk limit %s overridden", param),
				PriorState: map[string]any{param: prev},
				NewState:   map[string]any{param: value},
			}, nil
		}),
	}
}

// buildVerifiers binds read-back checks: after an executor claims an effect,
// the verifier confirms it is observable in the posture engine.
func buildVerifiers(engine *posture.Engine) map[intent.Type]control.Verifier {
	return map[intent.Type]control.Verifier{
		intent.TypeArm: control.VerifierFunc(func(_ context.Context, _ intent.Intent) (bool, error) {
			return engine.Armed(), nil
		}),

		intent.TypeDisarm: control.VerifierFunc(func(_ context.Context, _ intent.Intent) (bool, error) {
			return !engine.Armed(), nil
		}),

		intent.TypeSetMode: control.VerifierFunc(func(_ context.Context, in intent.Intent) (bool, error) {
			mode, _ := stringParam(in.Params, "mode")
			return engine.Mode() == mode, nil
		}),

		intent.TypeThrottlePhase: control.VerifierFunc(func(_ context.Context, in intent.Intent) (bool, error) {
			phase, _ := stringParam(in.Params, "phase")
			if in.Receipt == nil {
				return false, fmt.Errorf("no receipt to verify against")
			}
			claimed, ok := numberParam(in.Receipt.NewState, "throttle")
			if !ok {
				return false, fmt.Errorf("receipt is missing the new throttle value")
			}
			return engine.Throttle(phase) == claimed, nil
		}),

		intent.TypeRunReconcile: control.VerifierFunc(func(_ context.Context, in intent.Intent) (bool, error) {
			if in.Receipt == nil {
				return false, fmt.Errorf("no receipt to verify against")
			}
			claimedGross, ok := numberParam(in.Receipt.NewState, "gross_exposure_usd")
			if !ok {
				return false, fmt.Errorf("receipt is missing the gross exposure")
			}
			claimedClean, ok := in.Receipt.NewState["clean"].(bool)
			if !ok {
				return false, fmt.Errorf("receipt is missing the clean flag")
			}
			gross, clean := engine.Reconcile()
			return gross == claimedGross && clean == claimedClean, nil
		}),

		intent.TypeFlatten: control.VerifierFunc(func(_ context.Context, in intent.Intent) (bool, error) {
			symbol, _ := stringParam(in.Params, "symbol")
			if !engine.Halted() {
				return false, nil
			}
			if symbol != "" {
				return engine.Exposure(symbol) == 0, nil
			}
			return engine.GrossExposure() == 0, nil
		}),

		intent.TypeOverrideRisk: control.VerifierFunc(func(_ context.Context, in intent.Intent) (bool, error) {
			param, _ := stringParam(in.Params, "param")
			value, _ := numberParam(in.Params, "value")
			return engine.Limit(param) == value, nil
		}),
	}
}

func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	s, ok := params[key].(string)
	return s, ok
}

func numberParam(params map[string]any, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
