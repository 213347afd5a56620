// Package posture tracks the live trading posture of the platform: the armed
// interlock, trading mode, per-phase throttles, per-symbol exposure, and the
// effective risk limits. Intents are the only sanctioned way to change it.
//
// The posture snapshot is also the input to the optimistic-concurrency state
// hash: operators decide against a fingerprint of this state, and intents
// computed against a stale fingerprint are rejected.
package posture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/gowebpki/jcs"
)

// Trading modes, in increasing order of consequence.
const (
	ModePaper  = "paper"
	ModeShadow = "shadow"
	ModeLive   = "live"
)

// Modes lists the recognized trading modes.
func Modes() []string { return []string{ModePaper, ModeShadow, ModeLive} }

// DefaultPhases are the strategy pipeline phases subject to throttling.
func DefaultPhases() []string { return []string{"signal", "entry", "manage", "exit"} }

// Overridable risk limit parameters.
const (
	LimitMaxExposure   = "max_exposure"
	LimitMaxDailyLoss  = "max_daily_loss"
	LimitMaxOpenOrders = "max_open_orders"
)

// RiskParams lists the risk limits an OVERRIDE_RISK intent may target.
func RiskParams() []string {
	return []string{LimitMaxExposure, LimitMaxDailyLoss, LimitMaxOpenOrders}
}

// Config seeds the engine's initial posture.
type Config struct {
	Mode          string
	Phases        []string
	MaxExposure   float64
	MaxDailyLoss  float64
	MaxOpenOrders float64
}

// Snapshot is a point-in-time copy of the posture. It serializes to a stable
// canonical form for hashing.
type Snapshot struct {
	Armed     bool               `json:"armed"`
	Mode      string             `json:"mode"`
	Halted    bool               `json:"halted"`
	Throttles map[string]float64 `json:"throttles"`
	Exposures map[string]float64 `json:"exposures"`
	Limits    map[string]float64 `json:"limits"`
}

// Engine is the mutable posture. All methods are safe for concurrent use.
//
// The engine starts disarmed: order placement stays rejected until an ARM
// intent succeeds, independent of any upstream armed state.
type Engine struct {
	mu        sync.RWMutex
	armed     bool
	mode      string
	halted    bool
	phases    []string
	throttles map[string]float64 // phase -> percent of full activity (100 = no throttle)
	exposures map[string]float64 // symbol -> notional USD
	limits    map[string]float64
}

func New(cfg Config) *Engine {
	mode := cfg.Mode
	if mode == "" {
		mode = ModePaper
	}
	phases := cfg.Phases
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	throttles := make(map[string]float64, len(phases))
	for _, p := range phases {
		throttles[p] = 100
	}
	return &Engine{
		mode:      mode,
		phases:    append([]string(nil), phases...),
		throttles: throttles,
		exposures: make(map[string]float64),
		limits: map[string]float64{
			LimitMaxExposure:   cfg.MaxExposure,
			LimitMaxDailyLoss:  cfg.MaxDailyLoss,
			LimitMaxOpenOrders: cfg.MaxOpenOrders,
		},
	}
}

// Phases returns the strategy phases known to this engine.
func (e *Engine) Phases() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.phases...)
}

// Snapshot returns a deep copy of the current posture.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Armed:     e.armed,
		Mode:      e.mode,
		Halted:    e.halted,
		Throttles: copyMap(e.throttles),
		Exposures: copyMap(e.exposures),
		Limits:    copyMap(e.limits),
	}
}

// StateHash returns the SHA-256 hex digest of the canonical (RFC 8785) JSON
// form of the posture snapshot. Any posture change yields a new hash.
func (e *Engine) StateHash() string {
	snap := e.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Printf("posture: snapshot marshal: %v", err)
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		log.Printf("posture: canonicalize: %v", err)
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Armed reports whether order placement is enabled.
func (e *Engine) Armed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.armed
}

// Mode returns the current trading mode.
func (e *Engine) Mode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Halted reports whether trading is halted by a flatten.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// SetArmed flips the armed interlock, returning the previous value. Arming
// also clears a halt: an operator explicitly re-arming wants trading back.
func (e *Engine) SetArmed(armed bool, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.armed
	e.armed = armed
	if armed {
		e.halted = false
	}
	if prev != armed {
		if armed {
			log.Printf("posture: ARMED (%s)", reason)
		} else {
			log.Printf("posture: DISARMED (%s)", reason)
		}
	}
	return prev
}

// SetMode switches the trading mode, returning the previous mode.
func (e *Engine) SetMode(mode string) (string, error) {
	valid := false
	for _, m := range Modes() {
		if m == mode {
			valid = true
			break
		}
	}
	if !valid {
		return "", fmt.Errorf("posture: unknown mode %q", mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.mode
	e.mode = mode
	if prev != mode {
		log.Printf("posture: mode %s -> %s", prev, mode)
	}
	return prev, nil
}

// SetThrottle sets a phase's activity percentage and returns the previous
// value. 100 means unthrottled.
func (e *Engine) SetThrottle(phase string, pct float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.throttles[phase]
	if !ok {
		return 0, fmt.Errorf("posture: unknown phase %q", phase)
	}
	e.throttles[phase] = pct
	log.Printf("posture: throttle %s %.0f%% -> %.0f%%", phase, prev, pct)
	return prev, nil
}

// Throttle returns the activity percentage for a phase (100 if unknown).
func (e *Engine) Throttle(phase string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if pct, ok := e.throttles[phase]; ok {
		return pct
	}
	return 100
}

// SetExposure records the current notional exposure for a symbol. Zero or
// negative notional removes the entry.
func (e *Engine) SetExposure(symbol string, notionalUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if notionalUSD <= 0 {
		delete(e.exposures, symbol)
		return
	}
	e.exposures[symbol] = notionalUSD
}

// Exposure returns the notional exposure for one symbol.
func (e *Engine) Exposure(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exposures[symbol]
}

// GrossExposure sums notional exposure across all symbols.
func (e *Engine) GrossExposure() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total float64
	for _, n := range e.exposures {
		total += n
	}
	return total
}

// ExposedSymbols returns symbols with open exposure, sorted.
func (e *Engine) ExposedSymbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.exposures))
	for s := range e.exposures {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Flatten closes exposure for one symbol, or for every symbol when symbol is
// empty, and halts trading. It returns the closed exposures by symbol.
func (e *Engine) Flatten(symbol string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	closed := make(map[string]float64)
	if symbol == "" {
		for s, n := range e.exposures {
			closed[s] = n
		}
		e.exposures = make(map[string]float64)
	} else if n, ok := e.exposures[symbol]; ok {
		closed[symbol] = n
		delete(e.exposures, symbol)
	}
	e.halted = true
	log.Printf("posture: flattened %d position(s), trading halted", len(closed))
	return closed
}

// OverrideLimit replaces a risk limit, returning the previous value.
func (e *Engine) OverrideLimit(param string, value float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.limits[param]
	if !ok {
		return 0, fmt.Errorf("posture: unknown risk param %q", param)
	}
	e.limits[param] = value
	log.Printf("posture: risk override %s %.2f -> %.2f", param, prev, value)
	return prev, nil
}

// Limit returns the effective value of a risk limit.
func (e *Engine) Limit(param string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits[param]
}

// Reconcile prunes zeroed exposure entries and reports whether the gross
// exposure fits inside the max_exposure limit. It is the target of
// RUN_RECONCILE intents and is safe to run at any time.
func (e *Engine) Reconcile() (gross float64, clean bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s, n := range e.exposures {
		if n <= 0 {
			delete(e.exposures, s)
		} else {
			gross += n
		}
	}
	limit := e.limits[LimitMaxExposure]
	clean = limit <= 0 || gross <= limit
	return gross, clean
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
