package config

import "testing"

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestValidateInvalidMode(t *testing.T) {
	cfg := Default()
	cfg.Posture.Mode = "invalid-mode"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid posture.mode to fail validation")
	}
}

func TestValidateInvalidTTL(t *testing.T) {
	cfg := Default()
	cfg.DefaultTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected non-positive default_ttl to fail validation")
	}
}

func TestValidateInvalidHydrateRecent(t *testing.T) {
	cfg := Default()
	cfg.HydrateRecent = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative hydrate_recent to fail validation")
	}
}

func TestValidateInvalidLimits(t *testing.T) {
	cfg := Default()
	cfg.Posture.MaxExposureUSD = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative posture.max_exposure_usd to fail validation")
	}

	cfg = Default()
	cfg.Posture.MaxDailyLossUSD = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative posture.max_daily_loss_usd to fail validation")
	}
}

func TestValidateUnknownOperatorRole(t *testing.T) {
	cfg := Default()
	cfg.Operators = map[string]string{"alice": "superuser"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown operator role to fail validation")
	}

	cfg.Operators = map[string]string{"alice": "risk_owner", "bob": "observer"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected known roles to pass validation, got: %v", err)
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected enabled telegram without credentials to fail validation")
	}

	cfg.Telegram.BotToken = "tok"
	cfg.Telegram.ChatID = "42"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected configured telegram to pass validation, got: %v", err)
	}
}
