// Package intent defines the core data model of the control plane: operator
// intents, their lifecycle statuses, receipts, and the intake rejection codes.
package intent

import "time"

// Type identifies the operation an intent requests.
type Type string

const (
	TypeArm           Type = "ARM"
	TypeDisarm        Type = "DISARM"
	TypeSetMode       Type = "SET_MODE"
	TypeThrottlePhase Type = "THROTTLE_PHASE"
	TypeRunReconcile  Type = "RUN_RECONCILE"
	TypeFlatten       Type = "FLATTEN"
	TypeOverrideRisk  Type = "OVERRIDE_RISK"
)

// Types lists all known intent types in a stable order.
func Types() []Type {
	return []Type{
		TypeArm, TypeDisarm, TypeSetMode, TypeThrottlePhase,
		TypeRunReconcile, TypeFlatten, TypeOverrideRisk,
	}
}

// Known reports whether t is a recognized intent type.
func Known(t Type) bool {
	for _, k := range Types() {
		if t == k {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether t is gated on a separate human approval
// step regardless of the submitter's role.
func RequiresApproval(t Type) bool {
	return t == TypeFlatten || t == TypeOverrideRisk
}

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusAccepted   Status = "ACCEPTED"
	StatusExecuting  Status = "EXECUTING"
	StatusVerified   Status = "VERIFIED"
	StatusFailed     Status = "FAILED"
	StatusUnverified Status = "UNVERIFIED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether s is a final state. Terminal intents are immutable
// except for the approver fields set by the approval flow.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusUnverified, StatusRejected:
		return true
	}
	return false
}

// Role is an operator authorization class.
type Role string

const (
	RoleObserver  Role = "observer"
	RoleOperator  Role = "operator"
	RoleRiskOwner Role = "risk_owner"
)

// Version is the only supported intent schema version.
const Version = 1

// Intent is the unit of work: a signed, operator-attributable request to
// change system state.
type Intent struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Version        int            `json:"version"`
	Type           Type           `json:"type"`
	Params         map[string]any `json:"params"`
	OperatorID     string         `json:"operator_id"`
	Reason         string         `json:"reason,omitempty"`
	Signature      string         `json:"signature,omitempty"`
	StateHash      string         `json:"state_hash,omitempty"`

	Status      Status     `json:"status"`
	TTLSeconds  int        `json:"ttl_seconds"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Receipt     *Receipt   `json:"receipt,omitempty"`

	ApproverID      string     `json:"approver_id,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Submission is the raw payload a caller submits. The service copies it into
// an Intent once intake checks pass; ID is caller-chosen because it is under
// the signature.
type Submission struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Version        int            `json:"version"`
	Type           Type           `json:"type"`
	Params         map[string]any `json:"params"`
	OperatorID     string         `json:"operator_id"`
	Reason         string         `json:"reason,omitempty"`
	Signature      string         `json:"signature"`
	StateHash      string         `json:"state_hash,omitempty"`
	TTLSeconds     int            `json:"ttl_seconds,omitempty"`
}

// Receipt records what an executor actually did. It is immutable once
// attached to a terminal intent. Verification is nil when no verifier ran.
type Receipt struct {
	Effect       string         `json:"effect"`
	PriorState   map[string]any `json:"prior_state,omitempty"`
	NewState     map[string]any `json:"new_state,omitempty"`
	Verification *bool          `json:"verification,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Summary is the condensed view used by operator dashboards.
type Summary struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Status      Status    `json:"status"`
	OperatorID  string    `json:"operator_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	HasReceipt  bool      `json:"has_receipt"`
}

// Summarize condenses an intent for list views.
func Summarize(in Intent) Summary {
	return Summary{
		ID:          in.ID,
		Type:        in.Type,
		Status:      in.Status,
		OperatorID:  in.OperatorID,
		SubmittedAt: in.SubmittedAt,
		HasReceipt:  in.Receipt != nil,
	}
}

// RiskDelta summarizes the would-be impact of an intent on the trading
// posture.
type RiskDelta struct {
	PostureChange     string   `json:"posture_change,omitempty"`
	ThrottleDelta     float64  `json:"throttle_delta,omitempty"`
	AffectedSymbols   []string `json:"affected_symbols,omitempty"`
	AffectedPhases    []string `json:"affected_phases,omitempty"`
	EstimatedNotional float64  `json:"estimated_notional,omitempty"`
}

// BlastRadius is the set of phases and symbols an intent would touch.
type BlastRadius struct {
	Phases  []string `json:"phases,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// PreviewResult is the side-effect-free answer to "what would happen".
type PreviewResult struct {
	Allowed          bool        `json:"allowed"`
	StateHashValid   bool        `json:"state_hash_valid"`
	RBACAllowed      bool        `json:"rbac_allowed"`
	RequiresApproval bool        `json:"requires_approval"`
	RiskDelta        RiskDelta   `json:"risk_delta"`
	BlastRadius      BlastRadius `json:"blast_radius"`
	Reason           string      `json:"reason,omitempty"`
}
