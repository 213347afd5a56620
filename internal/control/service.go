// Package control is the command-and-control core: it takes signed operator
// intents through validation, authorization, idempotency, in-flight
// exclusivity, and optimistic-concurrency checks, owns every lifecycle
// transition, bounds execution time with a per-intent TTL, and produces
// durable receipts.
//
// The in-memory registry is authoritative; the durability adapter is a
// best-effort write-through replica for audit and warm restart.
package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/preview"
	"github.com/quantfabric/opscore/internal/signature"
	"github.com/quantfabric/opscore/internal/validate"
)

// Executor performs the real side effect for one intent type. Executors run
// on their own goroutine and must respect ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, in intent.Intent) (intent.Receipt, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, in intent.Intent) (intent.Receipt, error)

func (f ExecutorFunc) Execute(ctx context.Context, in intent.Intent) (intent.Receipt, error) {
	return f(ctx, in)
}

// Verifier independently confirms that an executed intent had its intended
// effect. A false return means the side effect is not observable.
type Verifier interface {
	Confirm(ctx context.Context, in intent.Intent) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, in intent.Intent) (bool, error)

func (f VerifierFunc) Confirm(ctx context.Context, in intent.Intent) (bool, error) {
	return f(ctx, in)
}

// Recorder is the durability adapter. Failures are logged and swallowed;
// they never block or fail the protocol.
type Recorder interface {
	Insert(ctx context.Context, in intent.Intent) error
	Update(ctx context.Context, in intent.Intent) error
	FindRecent(ctx context.Context, n int) ([]intent.Intent, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*intent.Intent, error)
}

// SubmitStatus is the intake decision returned to the caller.
type SubmitStatus string

const (
	SubmitAccepted      SubmitStatus = "ACCEPTED"
	SubmitRejected      SubmitStatus = "REJECTED"
	SubmitIdempotentHit SubmitStatus = "IDEMPOTENT_HIT"
)

// SubmitResult is the synchronous answer to a submission. Execution proceeds
// asynchronously after an ACCEPTED result.
type SubmitResult struct {
	Status     SubmitStatus       `json:"status"`
	Intent     intent.Intent      `json:"intent"`
	Code       intent.RejectCode  `json:"error,omitempty"`
	Violations []intent.Violation `json:"validation_errors,omitempty"`
}

// PreviewRequest asks what would happen if an intent were submitted.
type PreviewRequest struct {
	Type       intent.Type    `json:"type"`
	Params     map[string]any `json:"params"`
	OperatorID string         `json:"operator_id"`
	StateHash  string         `json:"state_hash,omitempty"`
	Role       intent.Role    `json:"role,omitempty"`
}

// IntentFilter narrows Intents listings.
type IntentFilter struct {
	Limit  int
	Status intent.Status
	Type   intent.Type
}

// Options wires the service's collaborators.
type Options struct {
	Verifier  *signature.Verifier
	Validator *validate.Validator
	Posture   preview.Posture

	// StateHash returns the current system state fingerprint submissions
	// are checked against.
	StateHash func() string
	// Role resolves an operator to an authorization role. Unknown operators
	// must resolve to the least-privileged role.
	Role func(operatorID string) intent.Role

	Executors map[intent.Type]Executor
	Verifiers map[intent.Type]Verifier

	// Store is optional; nil disables durability.
	Store Recorder
	// HydrateRecent loads the N most recent intents from Store at
	// construction. Zero disables hydration.
	HydrateRecent int
	// DefaultTTL applies when a submission carries no ttl_seconds.
	DefaultTTL time.Duration
}

// Service owns the authoritative status of every known intent. A single
// mutex serializes all acceptance decisions and transitions so that
// concurrent submissions for the same idempotency key or type can never both
// proceed.
type Service struct {
	mu sync.Mutex

	verifier   *signature.Verifier
	validator  *validate.Validator
	posture    preview.Posture
	stateHash  func() string
	roleOf     func(string) intent.Role
	executors  map[intent.Type]Executor
	verifiers  map[intent.Type]Verifier
	store      Recorder
	defaultTTL time.Duration

	byID     map[string]*intent.Intent
	order    []string               // ids in submission order
	byKey    map[string]string      // idempotency key -> accepted intent id
	inflight map[intent.Type]string // type -> non-terminal intent id
	timers   map[string]*time.Timer

	bus    *bus
	closed bool

	// ctx cancels executor/verifier goroutines on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

// New constructs the service and, when a store is configured, hydrates the
// most recent intents for idempotency continuity across restarts.
func New(opts Options) *Service {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 30 * time.Second
	}
	if opts.Role == nil {
		opts.Role = func(string) intent.Role { return intent.RoleObserver }
	}
	if opts.StateHash == nil {
		opts.StateHash = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		verifier:   opts.Verifier,
		validator:  opts.Validator,
		posture:    opts.Posture,
		stateHash:  opts.StateHash,
		roleOf:     opts.Role,
		executors:  opts.Executors,
		verifiers:  opts.Verifiers,
		store:      opts.Store,
		defaultTTL: opts.DefaultTTL,
		byID:       make(map[string]*intent.Intent),
		byKey:      make(map[string]string),
		inflight:   make(map[intent.Type]string),
		timers:     make(map[string]*time.Timer),
		bus:        newBus(),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	if s.store != nil && opts.HydrateRecent > 0 {
		s.hydrate(opts.HydrateRecent)
	}
	return s
}

// hydrate warm-loads recent intents. A record that was non-terminal when the
// process died has an unknown outcome, so it is surfaced as UNVERIFIED
// rather than silently resumed.
func (s *Service) hydrate(n int) {
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recent, err := s.store.FindRecent(loadCtx, n)
	if err != nil {
		log.Printf("control: hydrate: %v", err)
		return
	}
	// FindRecent returns newest first; order keeps oldest first.
	for i := len(recent) - 1; i >= 0; i-- {
		in := recent[i]
		if _, dup := s.byID[in.ID]; dup {
			continue
		}
		if !in.Status.Terminal() {
			prev := in.Status
			in.Status = intent.StatusUnverified
			t := s.now()
			in.ResolvedAt = &t
			log.Printf("control: hydrated %s was %s at shutdown, marked UNVERIFIED", in.ID, prev)
			s.persistUpdate(in)
		}
		cp := in
		s.byID[in.ID] = &cp
		s.order = append(s.order, in.ID)
		if in.IdempotencyKey != "" {
			s.byKey[in.IdempotencyKey] = in.ID
		}
	}
	if len(recent) > 0 {
		log.Printf("control: hydrated %d intent(s) from store", len(recent))
	}
}

// Intent returns a copy of the intent with the given id.
func (s *Service) Intent(id string) (intent.Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return intent.Intent{}, false
	}
	return cloneIntent(in), true
}

// Intents returns matching intents, most recent first, and the total number
// of matches before the limit was applied.
func (s *Service) Intents(f IntentFilter) ([]intent.Intent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []intent.Intent
	for i := len(s.order) - 1; i >= 0; i-- {
		in := s.byID[s.order[i]]
		if f.Status != "" && in.Status != f.Status {
			continue
		}
		if f.Type != "" && in.Type != f.Type {
			continue
		}
		matched = append(matched, cloneIntent(in))
	}
	total := len(matched)
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total
}

// LastSummaries returns condensed views of the n most recent intents.
func (s *Service) LastSummaries(n int) []intent.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	out := make([]intent.Summary, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, intent.Summarize(*s.byID[s.order[i]]))
	}
	return out
}

// Subscribe registers fn for transition events and returns an unsubscribe
// function. Events are delivered synchronously and in order; fn must not
// call back into the Service.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.bus.subscribe(fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.bus.unsubscribe(id)
	}
}

// Shutdown cancels every outstanding TTL timer, detaches all subscribers,
// and stops executor contexts. No transition or event occurs after Shutdown
// returns.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.bus.close()
	s.mu.Unlock()
	s.cancel()
	log.Println("control: shut down")
}

// persistInsert and persistUpdate run store writes on their own goroutines,
// logging failures. The in-memory registry is authoritative; a slow or
// unavailable store must never block the protocol.
func (s *Service) persistInsert(in intent.Intent) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Insert(ctx, in); err != nil {
			log.Printf("control: persist insert %s: %v", in.ID, err)
		}
	}()
}

func (s *Service) persistUpdate(in intent.Intent) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Update(ctx, in); err != nil {
			log.Printf("control: persist update %s: %v", in.ID, err)
		}
	}()
}

func cloneIntent(in *intent.Intent) intent.Intent {
	cp := *in
	if in.Params != nil {
		cp.Params = make(map[string]any, len(in.Params))
		for k, v := range in.Params {
			cp.Params[k] = v
		}
	}
	if in.Receipt != nil {
		r := *in.Receipt
		cp.Receipt = &r
	}
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		cp.ResolvedAt = &t
	}
	if in.ApprovedAt != nil {
		t := *in.ApprovedAt
		cp.ApprovedAt = &t
	}
	return cp
}
