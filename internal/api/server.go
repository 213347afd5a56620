package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/posture"
)

// ControlService exposes the intent protocol for the API layer.
type ControlService interface {
	Submit(sub intent.Submission) control.SubmitResult
	Preview(req control.PreviewRequest) intent.PreviewResult
	Intent(id string) (intent.Intent, bool)
	Intents(f control.IntentFilter) ([]intent.Intent, int)
	LastSummaries(n int) []intent.Summary
	Approve(id, approverID string) error
	Reject(id, approverID, reason string) error
}

// PostureProvider exposes the current posture for read endpoints.
type PostureProvider interface {
	Snapshot() posture.Snapshot
	StateHash() string
	Armed() bool
	Mode() string
}

// Server is the HTTP control surface for the intent protocol.
type Server struct {
	httpServer *http.Server
	control    ControlService
	posture    PostureProvider
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, ctrl ControlService, p PostureProvider) *Server {
	s := &Server{
		control:   ctrl,
		posture:   p,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/intents", s.handleIntents)
	mux.HandleFunc("/api/intents/", s.handleIntentByID)
	mux.HandleFunc("/api/preview", s.handlePreview)
	mux.HandleFunc("/api/summaries", s.handleSummaries)
	mux.HandleFunc("/api/posture", s.handlePosture)
	mux.HandleFunc("/api/statehash", s.handleStateHash)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{"error": msg})
}

// GET /api/health: liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready: readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":    true,
		"mode":     s.posture.Mode(),
		"armed":    s.posture.Armed(),
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// POST /api/intents: submit an intent.
// GET  /api/intents?limit=50&status=VERIFIED&type=ARM: list intents.
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub intent.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}

	res := s.control.Submit(sub)
	status := http.StatusAccepted
	switch res.Status {
	case control.SubmitRejected:
		status = http.StatusUnprocessableEntity
		switch res.Code {
		case intent.RejectRBAC:
			status = http.StatusForbidden
		case intent.RejectStateConflict, intent.RejectInFlight:
			status = http.StatusConflict
		}
	case control.SubmitIdempotentHit:
		status = http.StatusOK
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f := control.IntentFilter{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	f.Status = intent.Status(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	f.Type = intent.Type(strings.ToUpper(strings.TrimSpace(q.Get("type"))))

	intents, total := s.control.Intents(f)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"intents": intents,
		"count":   len(intents),
		"total":   total,
	})
}

// GET  /api/intents/{id}: fetch one intent.
// POST /api/intents/{id}/approve: approve a gated intent.
// POST /api/intents/{id}/reject: reject a gated intent.
func (s *Server) handleIntentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/intents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "missing intent id")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		in, ok := s.control.Intent(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "intent not found")
			return
		}
		s.writeJSON(w, http.StatusOK, in)
	case "approve", "reject":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleApproval(w, r, id, action)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action "+action)
	}
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request, id, action string) {
	var body struct {
		ApproverID string `json:"approver_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}
	if body.ApproverID == "" {
		s.writeError(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	var err error
	if action == "approve" {
		err = s.control.Approve(id, body.ApproverID)
	} else {
		err = s.control.Reject(id, body.ApproverID, body.Reason)
	}
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	in, _ := s.control.Intent(id)
	s.writeJSON(w, http.StatusOK, in)
}

// POST /api/preview: dry-run an intent without executing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req control.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.control.Preview(req))
}

// GET /api/summaries?limit=20: condensed recent intents for dashboards.
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sums := s.control.LastSummaries(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summaries": sums,
		"count":     len(sums),
	})
}

// GET /api/posture: current posture snapshot plus its state hash.
func (s *Server) handlePosture(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"posture":    s.posture.Snapshot(),
		"state_hash": s.posture.StateHash(),
	})
}

// GET /api/statehash: the fingerprint operators submit against.
func (s *Server) handleStateHash(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state_hash": s.posture.StateHash(),
	})
}
