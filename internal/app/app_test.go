package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/opscore/internal/config"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/posture"
	"github.com/quantfabric/opscore/internal/signature"
	"github.com/quantfabric/opscore/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HMACSecret = "test-secret"
	cfg.StorePath = filepath.Join(t.TempDir(), "opscore.db")
	cfg.API.Enabled = false
	cfg.Operators = map[string]string{
		"alice": "risk_owner",
		"bob":   "operator",
	}
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.service.Shutdown()
		if a.db != nil {
			a.db.Close()
		}
	})
	return a
}

func signedSubmission(t *testing.T, secret string, typ intent.Type, params map[string]any, operator string) intent.Submission {
	t.Helper()
	id := uuid.NewString()
	sig, err := signature.NewVerifier(secret).Sign(id, typ, params, operator)
	require.NoError(t, err)
	return intent.Submission{
		ID:             id,
		IdempotencyKey: "key-" + id,
		Version:        intent.Version,
		Type:           typ,
		Params:         params,
		OperatorID:     operator,
		Signature:      sig,
	}
}

func waitTerminal(t *testing.T, a *App, id string) intent.Intent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in, ok := a.service.Intent(id); ok && in.Status.Terminal() {
			return in
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("intent %s never reached a terminal state", id)
	return intent.Intent{}
}

func TestArmIntentEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeArm, nil, "bob")
	res := a.service.Submit(sub)
	require.Equal(t, "ACCEPTED", string(res.Status))

	in := waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	require.NotNil(t, in.Receipt)
	assert.Equal(t, "System armed", in.Receipt.Effect)
	assert.Equal(t, map[string]any{"armed": false}, in.Receipt.PriorState)
	assert.Equal(t, map[string]any{"armed": true}, in.Receipt.NewState)
	require.NotNil(t, in.Receipt.Verification)
	assert.True(t, *in.Receipt.Verification)
	assert.True(t, a.engine.Armed())
}

func TestSetModeVerifiedByReadback(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeSetMode, map[string]any{"mode": "shadow"}, "bob")
	a.service.Submit(sub)

	in := waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.Equal(t, "shadow", a.engine.Mode())
	assert.Equal(t, map[string]any{"mode": "paper"}, in.Receipt.PriorState)
}

func TestThrottlePhaseReducesActivity(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeThrottlePhase,
		map[string]any{"phase": "entry", "pct": 40.0}, "bob")
	a.service.Submit(sub)
	in := waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.Equal(t, 60.0, a.engine.Throttle("entry"))

	// A second reduction clamps at zero.
	sub = signedSubmission(t, cfg.HMACSecret, intent.TypeThrottlePhase,
		map[string]any{"phase": "entry", "pct": 80.0}, "bob")
	a.service.Submit(sub)
	in = waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.Equal(t, 0.0, a.engine.Throttle("entry"))
}

func TestFlattenHaltsAndClearsExposure(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	a.engine.SetExposure("BTC", 1200)
	a.engine.SetExposure("ETH", 800)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeFlatten, nil, "alice")
	res := a.service.Submit(sub)
	require.Equal(t, "ACCEPTED", string(res.Status))

	// Capital-risk intents wait for approval.
	time.Sleep(20 * time.Millisecond)
	in, _ := a.service.Intent(sub.ID)
	require.Equal(t, intent.StatusAccepted, in.Status)

	require.NoError(t, a.service.Approve(sub.ID, "alice"))
	in = waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.True(t, a.engine.Halted())
	assert.Equal(t, 0.0, a.engine.GrossExposure())
}

func TestOverrideRiskLimit(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeOverrideRisk,
		map[string]any{"param": "max_exposure", "value": 250.0}, "alice")
	a.service.Submit(sub)
	require.NoError(t, a.service.Approve(sub.ID, "alice"))

	in := waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.Equal(t, 250.0, a.engine.Limit("max_exposure"))
}

func TestRunReconcileReportsExposure(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	a.engine.SetExposure("BTC", 500)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeRunReconcile, nil, "bob")
	a.service.Submit(sub)

	in := waitTerminal(t, a, sub.ID)
	require.Equal(t, intent.StatusVerified, in.Status)
	assert.Equal(t, 500.0, in.Receipt.NewState["gross_exposure_usd"])
	require.NotNil(t, in.Receipt.Verification)
	assert.True(t, *in.Receipt.Verification)
}

func TestReconcileVerifierChecksReceipt(t *testing.T) {
	engine := posture.New(posture.Config{MaxExposure: 10000})
	engine.SetExposure("BTC", 500)

	verifier, ok := buildVerifiers(engine)[intent.TypeRunReconcile]
	require.True(t, ok, "RUN_RECONCILE must have a read-back verifier")

	in := intent.Intent{Type: intent.TypeRunReconcile}
	_, err := verifier.Confirm(context.Background(), in)
	require.Error(t, err, "missing receipt must not verify")

	in.Receipt = &intent.Receipt{NewState: map[string]any{
		"gross_exposure_usd": 500.0,
		"clean":              true,
	}}
	confirmed, err := verifier.Confirm(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, confirmed)

	// Exposure moved after the executor reported; the claim is stale.
	engine.SetExposure("ETH", 250)
	confirmed, err = verifier.Confirm(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestUnknownOperatorIsObserver(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	sub := signedSubmission(t, cfg.HMACSecret, intent.TypeArm, nil, "mallory")
	res := a.service.Submit(sub)
	require.Equal(t, "REJECTED", string(res.Status))
	assert.Equal(t, intent.RejectRBAC, res.Code)
}

func TestWarmRestartMarksInterruptedIntentsUnverified(t *testing.T) {
	cfg := testConfig(t)

	// Simulate a crash: an EXECUTING record in the store with no resolution.
	db, err := store.Open(cfg.StorePath)
	require.NoError(t, err)
	interrupted := intent.Intent{
		ID:             "int-crashed",
		IdempotencyKey: "key-crashed",
		Version:        intent.Version,
		Type:           intent.TypeSetMode,
		Params:         map[string]any{"mode": "live"},
		OperatorID:     "bob",
		Signature:      "ab",
		Status:         intent.StatusExecuting,
		TTLSeconds:     30,
		SubmittedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.Insert(context.Background(), interrupted))
	require.NoError(t, db.Close())

	a := newTestApp(t, cfg)
	in, ok := a.service.Intent("int-crashed")
	require.True(t, ok, "hydration should recover the interrupted intent")
	assert.Equal(t, intent.StatusUnverified, in.Status)
}

func TestFlattenedSymbolsFromReceipt(t *testing.T) {
	assert.Nil(t, flattenedSymbols(nil))
	assert.Nil(t, flattenedSymbols(&intent.Receipt{}))

	r := &intent.Receipt{PriorState: map[string]any{
		"exposures": map[string]any{"ETH": 250.0, "BTC": 500.0},
	}}
	assert.Equal(t, []string{"BTC", "ETH"}, flattenedSymbols(r))
}
