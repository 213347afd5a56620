// Package alerttmpl renders operator alert messages in Telegram HTML parse
// mode. Rendering is pure so templates can be tested without a bot.
package alerttmpl

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantfabric/opscore/internal/intent"
)

// Data describes the data required to render an intent alert message.
type Data struct {
	IntentID     string
	Type         intent.Type
	Status       intent.Status
	OperatorID   string
	Reason       string
	Effect       string
	Error        string
	Verification *bool
	Timestamp    time.Time
}

// Build normalizes an intent and its transition into a renderable payload.
func Build(in intent.Intent, status intent.Status, at time.Time) Data {
	d := Data{
		IntentID:   in.ID,
		Type:       in.Type,
		Status:     status,
		OperatorID: in.OperatorID,
		Reason:     strings.TrimSpace(in.Reason),
		Timestamp:  at,
	}
	if in.Receipt != nil {
		d.Effect = in.Receipt.Effect
		d.Error = in.Receipt.Error
		d.Verification = in.Receipt.Verification
	}
	return d
}

// ShouldAlert reports whether a transition warrants an operator alert.
// Failures and unverified outcomes always do; successes only for the
// capital-risk intent types.
func ShouldAlert(status intent.Status, typ intent.Type) bool {
	switch status {
	case intent.StatusFailed, intent.StatusUnverified:
		return true
	case intent.StatusVerified:
		return intent.RequiresApproval(typ)
	}
	return false
}

// RenderHTML renders an intent alert. UNVERIFIED gets its own header so it
// cannot be misread as a failure: the command may well have taken effect.
func RenderHTML(d Data) string {
	var b strings.Builder
	switch d.Status {
	case intent.StatusUnverified:
		b.WriteString("<b>INTENT UNVERIFIED - OUTCOME UNKNOWN</b>\n")
		b.WriteString("TTL expired before the outcome was confirmed. Reconcile before retrying.\n")
	case intent.StatusFailed:
		b.WriteString("<b>Intent Failed</b>\n")
	default:
		b.WriteString(fmt.Sprintf("<b>Intent %s</b>\n", d.Status))
	}

	b.WriteString(fmt.Sprintf("Type: %s\nID: <code>%s</code>\nOperator: %s\n", d.Type, d.IntentID, d.OperatorID))
	if d.Reason != "" {
		b.WriteString("Reason: " + d.Reason + "\n")
	}
	if d.Effect != "" {
		b.WriteString("Effect: " + d.Effect + "\n")
	}
	if d.Error != "" {
		b.WriteString("Error: " + d.Error + "\n")
	}
	if d.Verification != nil {
		if *d.Verification {
			b.WriteString("Verification: confirmed\n")
		} else {
			b.WriteString("Verification: effect not observable\n")
		}
	}
	if !d.Timestamp.IsZero() {
		b.WriteString("At: " + d.Timestamp.UTC().Format(time.RFC3339) + "\n")
	}
	return strings.TrimSpace(b.String())
}
