package alerttmpl

import (
	"strings"
	"testing"
	"time"

	"github.com/quantfabric/opscore/internal/intent"
)

func TestShouldAlert(t *testing.T) {
	cases := []struct {
		status intent.Status
		typ    intent.Type
		want   bool
	}{
		{intent.StatusFailed, intent.TypeArm, true},
		{intent.StatusUnverified, intent.TypeSetMode, true},
		{intent.StatusVerified, intent.TypeArm, false},
		{intent.StatusVerified, intent.TypeFlatten, true},
		{intent.StatusVerified, intent.TypeOverrideRisk, true},
		{intent.StatusRejected, intent.TypeFlatten, false},
		{intent.StatusExecuting, intent.TypeArm, false},
	}
	for _, c := range cases {
		if got := ShouldAlert(c.status, c.typ); got != c.want {
			t.Fatalf("ShouldAlert(%s, %s) = %v, want %v", c.status, c.typ, got, c.want)
		}
	}
}

func TestRenderUnverifiedIsDistinct(t *testing.T) {
	msg := RenderHTML(Data{
		IntentID:   "int-1",
		Type:       intent.TypeSetMode,
		Status:     intent.StatusUnverified,
		OperatorID: "alice",
	})
	if !strings.Contains(msg, "OUTCOME UNKNOWN") {
		t.Fatalf("expected unverified header, got:\n%s", msg)
	}
	if strings.Contains(msg, "Intent Failed") {
		t.Fatal("unverified alert must not read as a failure")
	}
}

func TestRenderFailedIncludesError(t *testing.T) {
	confirmed := false
	msg := RenderHTML(Data{
		IntentID:     "int-2",
		Type:         intent.TypeFlatten,
		Status:       intent.StatusFailed,
		OperatorID:   "bob",
		Error:        "exchange unreachable",
		Verification: &confirmed,
	})
	if !strings.Contains(msg, "Intent Failed") {
		t.Fatalf("expected failure header, got:\n%s", msg)
	}
	if !strings.Contains(msg, "exchange unreachable") {
		t.Fatal("expected error detail in alert")
	}
	if !strings.Contains(msg, "effect not observable") {
		t.Fatal("expected verification verdict in alert")
	}
}

func TestBuildCopiesReceipt(t *testing.T) {
	now := time.Now()
	in := intent.Intent{
		ID:         "int-3",
		Type:       intent.TypeArm,
		OperatorID: "alice",
		Reason:     "  resume after deploy  ",
		Receipt:    &intent.Receipt{Effect: "System armed"},
	}
	d := Build(in, intent.StatusVerified, now)
	if d.Effect != "System armed" {
		t.Fatalf("expected receipt effect, got %q", d.Effect)
	}
	if d.Reason != "resume after deploy" {
		t.Fatalf("expected trimmed reason, got %q", d.Reason)
	}
	msg := RenderHTML(d)
	if !strings.Contains(msg, "System armed") || !strings.Contains(msg, "int-3") {
		t.Fatalf("unexpected render:\n%s", msg)
	}
}
