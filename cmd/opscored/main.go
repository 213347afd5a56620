package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quantfabric/opscore/internal/app"
	"github.com/quantfabric/opscore/internal/config"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	phase := flag.String("phase", "", "rollout phase preset: paper|shadow|live-small|live")
	modeOverride := flag.String("mode", "", "override posture mode: paper|shadow|live")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if v := strings.ToLower(strings.TrimSpace(*modeOverride)); v != "" {
		cfg.Posture.Mode = v
	}
	if err := config.ApplyRolloutPhase(&cfg, *phase); err != nil {
		log.Fatalf("invalid -phase: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.HMACSecret == "" {
		log.Fatal("OPSCORE_HMAC_SECRET is required: intents cannot be verified without it")
	}

	log.Printf(
		"opscored starting (mode=%s phase=%s store=%s max_exposure=%.2f max_daily_loss=%.2f ttl=%s)",
		cfg.Posture.Mode,
		strings.TrimSpace(*phase),
		cfg.StorePath,
		cfg.Posture.MaxExposureUSD,
		cfg.Posture.MaxDailyLossUSD,
		cfg.DefaultTTL,
	)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("run error: %v", err)
	}
}
