package posture

import "testing"

func newTestEngine() *Engine {
	return New(Config{
		Mode:          ModePaper,
		MaxExposure:   10000,
		MaxDailyLoss:  500,
		MaxOpenOrders: 20,
	})
}

func TestStartsDisarmed(t *testing.T) {
	e := newTestEngine()
	if e.Armed() {
		t.Fatal("engine must start disarmed")
	}
}

func TestArmDisarm(t *testing.T) {
	e := newTestEngine()
	if prev := e.SetArmed(true, "go live"); prev {
		t.Fatal("expected previous state disarmed")
	}
	if !e.Armed() {
		t.Fatal("expected armed")
	}
	if prev := e.SetArmed(false, "maintenance"); !prev {
		t.Fatal("expected previous state armed")
	}
	if e.Armed() {
		t.Fatal("expected disarmed")
	}
}

func TestArmClearsHalt(t *testing.T) {
	e := newTestEngine()
	e.Flatten("")
	if !e.Halted() {
		t.Fatal("expected halted after flatten")
	}
	e.SetArmed(true, "resume")
	if e.Halted() {
		t.Fatal("expected halt cleared by arm")
	}
}

func TestSetMode(t *testing.T) {
	e := newTestEngine()
	prev, err := e.SetMode(ModeLive)
	if err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if prev != ModePaper || e.Mode() != ModeLive {
		t.Fatalf("expected paper->live, got %s->%s", prev, e.Mode())
	}
	if _, err := e.SetMode("turbo"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestThrottle(t *testing.T) {
	e := newTestEngine()
	if got := e.Throttle("entry"); got != 100 {
		t.Fatalf("expected default 100, got %f", got)
	}
	prev, err := e.SetThrottle("entry", 25)
	if err != nil {
		t.Fatalf("set throttle: %v", err)
	}
	if prev != 100 || e.Throttle("entry") != 25 {
		t.Fatalf("expected 100->25, got %f->%f", prev, e.Throttle("entry"))
	}
	if _, err := e.SetThrottle("warp", 10); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestFlattenSingleSymbol(t *testing.T) {
	e := newTestEngine()
	e.SetExposure("BTC", 1200)
	e.SetExposure("ETH", 800)

	closed := e.Flatten("BTC")
	if len(closed) != 1 || closed["BTC"] != 1200 {
		t.Fatalf("expected BTC closed, got %v", closed)
	}
	if e.Exposure("BTC") != 0 {
		t.Fatal("expected BTC exposure zeroed")
	}
	if e.Exposure("ETH") != 800 {
		t.Fatal("expected ETH exposure untouched")
	}
	if !e.Halted() {
		t.Fatal("expected trading halted")
	}
}

func TestFlattenAll(t *testing.T) {
	e := newTestEngine()
	e.SetExposure("BTC", 1200)
	e.SetExposure("ETH", 800)

	closed := e.Flatten("")
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed, got %v", closed)
	}
	if e.GrossExposure() != 0 {
		t.Fatalf("expected zero gross exposure, got %f", e.GrossExposure())
	}
}

func TestOverrideLimit(t *testing.T) {
	e := newTestEngine()
	prev, err := e.OverrideLimit(LimitMaxExposure, 5000)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if prev != 10000 || e.Limit(LimitMaxExposure) != 5000 {
		t.Fatalf("expected 10000->5000, got %f->%f", prev, e.Limit(LimitMaxExposure))
	}
	if _, err := e.OverrideLimit("max_vibes", 1); err == nil {
		t.Fatal("expected error for unknown param")
	}
}

func TestReconcile(t *testing.T) {
	e := newTestEngine()
	e.SetExposure("BTC", 4000)
	e.SetExposure("ETH", 3000)

	gross, clean := e.Reconcile()
	if gross != 7000 || !clean {
		t.Fatalf("expected 7000 clean, got %f %t", gross, clean)
	}

	e.SetExposure("SOL", 9000)
	gross, clean = e.Reconcile()
	if gross != 16000 || clean {
		t.Fatalf("expected 16000 dirty, got %f %t", gross, clean)
	}
}

func TestStateHashChangesWithPosture(t *testing.T) {
	e := newTestEngine()
	h1 := e.StateHash()
	if h1 == "" {
		t.Fatal("expected non-empty hash")
	}
	if h2 := e.StateHash(); h2 != h1 {
		t.Fatal("hash must be stable for unchanged posture")
	}
	e.SetArmed(true, "test")
	if h3 := e.StateHash(); h3 == h1 {
		t.Fatal("hash must change when posture changes")
	}
}

func TestExposedSymbolsSorted(t *testing.T) {
	e := newTestEngine()
	e.SetExposure("ETH", 1)
	e.SetExposure("BTC", 1)
	e.SetExposure("SOL", 1)
	got := e.ExposedSymbols()
	want := []string{"BTC", "ETH", "SOL"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
