package control

import (
	"fmt"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/preview"
	"github.com/quantfabric/opscore/internal/validate"
)

// Preview answers "what would happen" without mutating the registry or the
// posture. It reuses the same in-flight, RBAC, and state-hash checks as
// Submit so an operator is never shown an allowed preview for a submission
// that would be rejected.
func (s *Service) Preview(req PreviewRequest) intent.PreviewResult {
	res := intent.PreviewResult{
		StateHashValid:   true,
		RequiresApproval: intent.RequiresApproval(req.Type),
	}

	if !intent.Known(req.Type) {
		res.Reason = fmt.Sprintf("unknown intent type %q", req.Type)
		return res
	}

	role := req.Role
	if role == "" {
		role = s.roleOf(req.OperatorID)
	}
	res.RBACAllowed = validate.RoleAllows(role, req.Type)

	if req.StateHash != "" && req.StateHash != s.stateHash() {
		res.StateHashValid = false
	}

	s.mu.Lock()
	inflightID, busy := s.inflight[req.Type]
	s.mu.Unlock()

	res.RiskDelta, res.BlastRadius = preview.Impact(s.posture, req.Type, req.Params)

	switch {
	case busy:
		res.Reason = fmt.Sprintf("intent %s of type %s is still in flight", inflightID, req.Type)
	case !res.RBACAllowed:
		res.Reason = fmt.Sprintf("role %q may not submit %s", role, req.Type)
	case !res.StateHashValid:
		res.Reason = "state_hash does not match current system state"
	default:
		res.Allowed = true
	}
	return res
}
