package control

import (
	"fmt"
	"log"
	"time"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/validate"
)

// Submit runs the full intake pipeline: structural validation, RBAC,
// signature verification, idempotency, in-flight exclusivity, and the
// optimistic state-hash check. It returns as soon as the intake decision is
// made; execution proceeds asynchronously.
func (s *Service) Submit(sub intent.Submission) SubmitResult {
	// Validation and signature verification are pure; only the registry
	// checks and registration need the lock.
	if violations := s.validator.Check(sub); len(violations) > 0 {
		return s.reject(sub, intent.RejectValidation, "structural validation failed", violations)
	}

	role := s.roleOf(sub.OperatorID)
	if !validate.RoleAllows(role, sub.Type) {
		return s.reject(sub, intent.RejectRBAC,
			fmt.Sprintf("role %q may not submit %s", role, sub.Type), nil)
	}

	if !s.verifier.Verify(sub.ID, sub.Type, sub.Params, sub.OperatorID, sub.Signature) {
		return s.reject(sub, intent.RejectSignature, "signature verification failed", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.rejectLocked(sub, intent.RejectValidation, "service is shut down", nil)
	}

	// Idempotency: an already-accepted key returns the original intent,
	// unmutated, with no further checks and no re-execution.
	if id, hit := s.byKey[sub.IdempotencyKey]; hit {
		return SubmitResult{Status: SubmitIdempotentHit, Intent: cloneIntent(s.byID[id])}
	}

	if _, dup := s.byID[sub.ID]; dup {
		return s.rejectLocked(sub, intent.RejectValidation, "intent id already exists",
			[]intent.Violation{{Field: "id", Message: "id already exists"}})
	}

	// In-flight exclusivity: one non-terminal intent per type.
	if otherID, busy := s.inflight[sub.Type]; busy {
		return s.rejectLocked(sub, intent.RejectInFlight,
			fmt.Sprintf("intent %s of type %s is still in flight", otherID, sub.Type), nil)
	}

	// Optimistic concurrency: a submission carrying a stale fingerprint was
	// decided against outdated state. Omitting state_hash bypasses the check.
	if sub.StateHash != "" {
		if current := s.stateHash(); sub.StateHash != current {
			return s.rejectLocked(sub, intent.RejectStateConflict,
				"state_hash does not match current system state", nil)
		}
	}

	ttl := time.Duration(sub.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	in := &intent.Intent{
		ID:             sub.ID,
		IdempotencyKey: sub.IdempotencyKey,
		Version:        sub.Version,
		Type:           sub.Type,
		Params:         sub.Params,
		OperatorID:     sub.OperatorID,
		Reason:         sub.Reason,
		Signature:      sub.Signature,
		StateHash:      sub.StateHash,
		Status:         intent.StatusAccepted,
		TTLSeconds:     int(ttl / time.Second),
		SubmittedAt:    s.now(),
	}

	s.byID[in.ID] = in
	s.order = append(s.order, in.ID)
	s.byKey[in.IdempotencyKey] = in.ID
	s.inflight[in.Type] = in.ID
	s.timers[in.ID] = time.AfterFunc(ttl, func() { s.expire(in.ID) })

	s.persistInsert(cloneIntent(in))

	if intent.RequiresApproval(in.Type) {
		// Gated on an explicit Approve call; the TTL covers the whole
		// window including the wait for approval.
		log.Printf("control: %s %s accepted, awaiting approval (ttl=%ds)", in.Type, in.ID, in.TTLSeconds)
	} else {
		s.dispatchLocked(in)
	}

	return SubmitResult{Status: SubmitAccepted, Intent: cloneIntent(in)}
}

// Approve releases an approval-gated intent for execution. Only risk owners
// may approve, and only intents still waiting in ACCEPTED.
func (s *Service) Approve(id, approverID string) error {
	if role := s.roleOf(approverID); role != intent.RoleRiskOwner {
		return fmt.Errorf("control: approver %q has role %q, risk_owner required", approverID, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("control: service is shut down")
	}
	in, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("control: intent %s not found", id)
	}
	if !intent.RequiresApproval(in.Type) {
		return fmt.Errorf("control: intent %s (%s) does not take approval", id, in.Type)
	}
	if in.Status != intent.StatusAccepted {
		return fmt.Errorf("control: intent %s is %s, not awaiting approval", id, in.Status)
	}

	t := s.now()
	in.ApproverID = approverID
	in.ApprovedAt = &t
	s.persistUpdate(cloneIntent(in))
	log.Printf("control: %s approved by %s", id, approverID)
	s.dispatchLocked(in)
	return nil
}

// Reject denies an approval-gated intent. The intent reaches REJECTED
// terminally; no executor runs and no receipt is attached.
func (s *Service) Reject(id, approverID, reason string) error {
	if role := s.roleOf(approverID); role != intent.RoleRiskOwner {
		return fmt.Errorf("control: approver %q has role %q, risk_owner required", approverID, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("control: service is shut down")
	}
	in, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("control: intent %s not found", id)
	}
	if !intent.RequiresApproval(in.Type) {
		return fmt.Errorf("control: intent %s (%s) does not take approval", id, in.Type)
	}
	if in.Status != intent.StatusAccepted {
		return fmt.Errorf("control: intent %s is %s, not awaiting approval", id, in.Status)
	}

	in.ApproverID = approverID
	in.RejectionReason = reason
	s.transitionLocked(in, intent.StatusRejected, nil)
	return nil
}

// reject records an intake rejection without claiming the idempotency key or
// the in-flight slot. Rejections stay in the in-memory audit trail only;
// they are never persisted as executable records.
func (s *Service) reject(sub intent.Submission, code intent.RejectCode, detail string, violations []intent.Violation) SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejectLocked(sub, code, detail, violations)
}

func (s *Service) rejectLocked(sub intent.Submission, code intent.RejectCode, detail string, violations []intent.Violation) SubmitResult {
	t := s.now()
	in := intent.Intent{
		ID:              sub.ID,
		IdempotencyKey:  sub.IdempotencyKey,
		Version:         sub.Version,
		Type:            sub.Type,
		Params:          sub.Params,
		OperatorID:      sub.OperatorID,
		Reason:          sub.Reason,
		Status:          intent.StatusRejected,
		SubmittedAt:     t,
		ResolvedAt:      &t,
		RejectionReason: fmt.Sprintf("%s: %s", code, detail),
	}
	log.Printf("control: rejected %s %s from %s: %s", sub.Type, sub.ID, sub.OperatorID, in.RejectionReason)
	if !s.closed {
		s.bus.emit(Event{IntentID: in.ID, Status: intent.StatusRejected, Timestamp: t})
	}
	return SubmitResult{Status: SubmitRejected, Intent: in, Code: code, Violations: violations}
}
