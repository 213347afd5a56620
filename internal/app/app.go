// Package app wires the daemon together: posture engine, intent control
// service, durability, the HTTP API and Telegram alerting.
package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/quantfabric/opscore/internal/api"
	"github.com/quantfabric/opscore/internal/config"
	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/notify"
	"github.com/quantfabric/opscore/internal/posture"
	"github.com/quantfabric/opscore/internal/signature"
	"github.com/quantfabric/opscore/internal/store"
	"github.com/quantfabric/opscore/internal/validate"
)

type App struct {
	cfg     config.Config
	engine  *posture.Engine
	service *control.Service
	db      *store.Store

	apiServer *api.Server
	notifier  *notify.Notifier
	pump      *notify.Pump

	unsubscribe func()

	mu      sync.RWMutex
	running bool
}

func New(cfg config.Config) (*App, error) {
	engine := posture.New(posture.Config{
		Mode:          cfg.Posture.Mode,
		Phases:        cfg.Posture.Phases,
		MaxExposure:   cfg.Posture.MaxExposureUSD,
		MaxDailyLoss:  cfg.Posture.MaxDailyLossUSD,
		MaxOpenOrders: cfg.Posture.MaxOpenOrders,
	})

	a := &App{cfg: cfg, engine: engine}

	if cfg.Telegram.Enabled {
		a.notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		a.pump = notify.NewPump(a.notifier)
	}

	opts := control.Options{
		Verifier: signature.NewVerifier(cfg.HMACSecret),
		Validator: validate.New(validate.Config{
			Phases:     engine.Phases(),
			Modes:      posture.Modes(),
			RiskParams: posture.RiskParams(),
		}),
		Posture:       engine,
		StateHash:     engine.StateHash,
		Role:          roleResolver(cfg.Operators),
		Executors:     buildExecutors(engine),
		Verifiers:     buildVerifiers(engine),
		HydrateRecent: cfg.HydrateRecent,
		DefaultTTL:    cfg.DefaultTTL,
	}

	if cfg.StorePath != "" {
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open intent store: %w", err)
		}
		a.db = db
		opts.Store = db
	}

	a.service = control.New(opts)

	if a.pump != nil {
		svc, pump, notifier := a.service, a.pump, a.notifier
		// Subscribers run under the service lock: fetch the intent and
		// enqueue off the hot path.
		a.unsubscribe = svc.Subscribe(func(ev control.Event) {
			if !ev.Status.Terminal() {
				return
			}
			go func() {
				in, ok := svc.Intent(ev.IntentID)
				if !ok {
					return
				}
				pump.Handle(in, ev.Status, ev.Timestamp)
				if ev.Status == intent.StatusVerified && in.Type == intent.TypeFlatten {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := notifier.NotifyHalt(ctx, flattenedSymbols(in.Receipt)); err != nil {
						log.Printf("notify: halt: %v", err)
					}
				}
			}()
		})
	}

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(cfg.API.Addr, a.service, engine)
	}

	return a, nil
}

// Service returns the intent control service.
func (a *App) Service() *control.Service { return a.service }

// Posture returns the posture engine.
func (a *App) Posture() *posture.Engine { return a.engine }

// IsRunning reports whether Run is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Run serves until ctx is cancelled, then shuts everything down in order:
// API first so no new intents arrive, then the control service, then the
// alert pump and the store.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	log.Printf("opscore starting: mode=%s armed=%v state_hash=%s",
		a.engine.Mode(), a.engine.Armed(), a.engine.StateHash())

	if a.apiServer != nil {
		if err := a.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
	}
	if a.pump != nil {
		go a.pump.Run(ctx)
		if err := a.notifier.NotifyStartup(ctx, a.engine.Mode(), a.engine.Armed()); err != nil {
			log.Printf("notify: startup: %v", err)
		}
	}

	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			sums := a.service.LastSummaries(1)
			last := "none"
			if len(sums) > 0 {
				last = fmt.Sprintf("%s %s %s", sums[0].Type, sums[0].ID, sums[0].Status)
			}
			log.Printf("heartbeat: mode=%s armed=%v halted=%v gross_exposure=%.2f last_intent=%s",
				a.engine.Mode(), a.engine.Armed(), a.engine.Halted(), a.engine.GrossExposure(), last)
		}
	}
}

func (a *App) shutdown() error {
	log.Println("opscore shutting down")
	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.apiServer.Shutdown(ctx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.service.Shutdown()
	if a.pump != nil {
		a.pump.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("store close: %v", err)
		}
	}
	return nil
}

// flattenedSymbols lists the symbols a FLATTEN receipt reports as closed.
func flattenedSymbols(r *intent.Receipt) []string {
	if r == nil {
		return nil
	}
	exposures, ok := r.PriorState["exposures"].(map[string]any)
	if !ok {
		return nil
	}
	syms := make([]string, 0, len(exposures))
	for s := range exposures {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// roleResolver maps operator ids to roles from config. Unknown operators are
// observers; they can read but never mutate.
func roleResolver(operators map[string]string) func(string) intent.Role {
	return func(operatorID string) intent.Role {
		if r, ok := operators[operatorID]; ok {
			switch role := intent.Role(r); role {
			case intent.RoleOperator, intent.RoleRiskOwner, intent.RoleObserver:
				return role
			}
		}
		return intent.RoleObserver
	}
}
