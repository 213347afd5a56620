package control

import (
	"log"

	"github.com/quantfabric/opscore/internal/intent"
)

// dispatchLocked advances an ACCEPTED intent to EXECUTING and launches its
// executor. Caller must hold s.mu.
func (s *Service) dispatchLocked(in *intent.Intent) {
	s.transitionLocked(in, intent.StatusExecuting, nil)
	go s.run(cloneIntent(in))
}

// run executes an intent off the submission path and resolves it. The TTL
// timer races this; whichever transitions first wins, and the loser's
// outcome is discarded by resolve.
func (s *Service) run(in intent.Intent) {
	exec, ok := s.executors[in.Type]
	if !ok {
		s.resolve(in.ID, intent.StatusFailed, &intent.Receipt{Error: "no executor registered"})
		return
	}

	receipt, err := exec.Execute(s.ctx, in)
	if err != nil {
		receipt.Error = err.Error()
		s.resolve(in.ID, intent.StatusFailed, &receipt)
		return
	}

	if verifier, ok := s.verifiers[in.Type]; ok {
		// The verifier sees the executor's claimed receipt and checks it
		// against observable state.
		in.Receipt = &receipt
		confirmed, verr := verifier.Confirm(s.ctx, in)
		receipt.Verification = &confirmed
		if verr != nil {
			receipt.Error = "verification error: " + verr.Error()
			s.resolve(in.ID, intent.StatusFailed, &receipt)
			return
		}
		if !confirmed {
			receipt.Error = "verifier reported effect not observable"
			s.resolve(in.ID, intent.StatusFailed, &receipt)
			return
		}
	}

	s.resolve(in.ID, intent.StatusVerified, &receipt)
}

// expire is the TTL path: if the intent has not concluded, its true outcome
// is unknown and it is forced to UNVERIFIED. Distinct from FAILED: the side
// effect may have actually happened and must be reconciled out-of-band.
func (s *Service) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	in, ok := s.byID[id]
	if !ok || in.Status.Terminal() {
		return
	}
	log.Printf("control: %s %s exceeded ttl=%ds, forcing UNVERIFIED", in.Type, id, in.TTLSeconds)
	s.transitionLocked(in, intent.StatusUnverified, nil)
}

// resolve applies a terminal transition from the executor/verifier path.
// Only non-terminal intents transition; a late completion after the TTL
// already fired is recorded in the log, never as a state change.
func (s *Service) resolve(id string, status intent.Status, receipt *intent.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Printf("control: dropping %s result for %s after shutdown", status, id)
		return
	}
	in, ok := s.byID[id]
	if !ok {
		log.Printf("control: result for unknown intent %s discarded", id)
		return
	}
	if in.Status.Terminal() {
		log.Printf("control: late %s result for %s discarded (already %s)", status, id, in.Status)
		return
	}
	in.Receipt = receipt
	s.transitionLocked(in, status, receipt)
}

// transitionLocked is the single place lifecycle state advances. It stops
// the TTL timer on terminal transitions, frees the in-flight slot, persists
// write-through, and emits exactly one event. Caller must hold s.mu.
func (s *Service) transitionLocked(in *intent.Intent, next intent.Status, receipt *intent.Receipt) {
	prev := in.Status
	in.Status = next
	t := s.now()
	if next.Terminal() {
		in.ResolvedAt = &t
		if timer, ok := s.timers[in.ID]; ok {
			timer.Stop()
			delete(s.timers, in.ID)
		}
		if s.inflight[in.Type] == in.ID {
			delete(s.inflight, in.Type)
		}
	}
	s.persistUpdate(cloneIntent(in))
	s.bus.emit(Event{
		IntentID:  in.ID,
		Status:    next,
		Previous:  prev,
		Timestamp: t,
		Receipt:   receipt,
	})
}
