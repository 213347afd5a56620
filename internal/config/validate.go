package config

import (
	"fmt"
	"strings"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/posture"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.Posture.Mode))
	if mode != "" && mode != posture.ModePaper && mode != posture.ModeShadow && mode != posture.ModeLive {
		return fmt.Errorf("posture.mode must be 'paper', 'shadow' or 'live', got %q", c.Posture.Mode)
	}

	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be > 0, got %s", c.DefaultTTL)
	}
	if c.HydrateRecent < 0 {
		return fmt.Errorf("hydrate_recent must be >= 0, got %d", c.HydrateRecent)
	}
	if c.Posture.MaxExposureUSD < 0 {
		return fmt.Errorf("posture.max_exposure_usd must be >= 0, got %f", c.Posture.MaxExposureUSD)
	}
	if c.Posture.MaxDailyLossUSD < 0 {
		return fmt.Errorf("posture.max_daily_loss_usd must be >= 0, got %f", c.Posture.MaxDailyLossUSD)
	}

	for op, role := range c.Operators {
		switch intent.Role(role) {
		case intent.RoleObserver, intent.RoleOperator, intent.RoleRiskOwner:
		default:
			return fmt.Errorf("operators[%q] has unknown role %q", op, role)
		}
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.enabled requires bot_token and chat_id")
	}

	return nil
}
