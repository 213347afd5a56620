package config

import (
	"fmt"
	"strings"

	"github.com/quantfabric/opscore/internal/posture"
)

// ApplyRolloutPhase applies a staged rollout preset to the config.
// Supported phases:
// - paper:       paper mode, simulated fills only
// - shadow:      live market data, no order placement
// - live-small:  live mode with conservative exposure caps
// - live:        live mode using configured values
func ApplyRolloutPhase(cfg *Config, phase string) error {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return nil
	}

	switch p {
	case "paper":
		cfg.Posture.Mode = posture.ModePaper
	case "shadow", "live-dryrun", "live-dry-run":
		cfg.Posture.Mode = posture.ModeShadow
	case "live-small", "small":
		cfg.Posture.Mode = posture.ModeLive

		clampMaxFloat(&cfg.Posture.MaxExposureUSD, 500)
		clampMaxFloat(&cfg.Posture.MaxDailyLossUSD, 25)
		clampMaxFloat(&cfg.Posture.MaxOpenOrders, 4)
	case "live":
		cfg.Posture.Mode = posture.ModeLive
	default:
		return fmt.Errorf("unknown rollout phase %q (supported: paper|shadow|live-small|live)", phase)
	}

	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}
