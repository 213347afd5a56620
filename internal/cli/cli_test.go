package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/signature"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "opsctl", cmd.Use)

	for _, name := range []string{"sign", "submit", "preview", "status", "approve", "reject"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := runCommand(t, "--format", "yaml", "sign", "ARM", "--operator", "alice", "--secret", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSignMatchesVerifier(t *testing.T) {
	out, err := runCommand(t,
		"sign", "ARM",
		"--id", "intent-1",
		"--operator", "alice",
		"--secret", "test-secret",
		"--format", "json",
	)
	require.NoError(t, err)

	var got struct {
		ID        string `json:"id"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "intent-1", got.ID)

	want, err := signature.NewVerifier("test-secret").Sign("intent-1", intent.TypeArm, map[string]any{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got.Signature)
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("OPSCORE_HMAC_SECRET", "")
	_, err := runCommand(t, "sign", "ARM", "--operator", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signing secret")
}

func TestSubmitSignsAndPosts(t *testing.T) {
	verifier := signature.NewVerifier("test-secret")
	var received intent.Submission

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/statehash":
			json.NewEncoder(w).Encode(map[string]string{"state_hash": "abc123"})
		case "/api/intents":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(control.SubmitResult{
				Status: control.SubmitAccepted,
				Intent: intent.Intent{ID: received.ID, Type: received.Type, Status: intent.StatusAccepted},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCommand(t,
		"submit", "ARM",
		"--addr", srv.URL,
		"--secret", "test-secret",
		"--operator", "alice",
		"--reason", "resume",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "ACCEPTED")

	assert.Equal(t, intent.TypeArm, received.Type)
	assert.Equal(t, "alice", received.OperatorID)
	assert.Equal(t, "abc123", received.StateHash)
	assert.NotEmpty(t, received.IdempotencyKey)
	assert.True(t, verifier.Verify(received.ID, received.Type, received.Params, received.OperatorID, received.Signature))
}

func TestSubmitShowsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/statehash" {
			json.NewEncoder(w).Encode(map[string]string{"state_hash": "abc123"})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(control.SubmitResult{
			Status: control.SubmitRejected,
			Code:   intent.RejectRBAC,
			Intent: intent.Intent{Status: intent.StatusRejected, RejectionReason: "role observer may not submit ARM"},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t,
		"submit", "ARM",
		"--addr", srv.URL,
		"--secret", "test-secret",
		"--operator", "watcher",
	)
	require.Error(t, err)
	assert.Contains(t, out, "REJECTED")
	assert.Contains(t, out, "RBAC_DENIED")
	assert.Contains(t, out, "role observer may not submit ARM")
}

func TestPreviewRendersResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/preview", r.URL.Path)
		var req control.PreviewRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, intent.TypeFlatten, req.Type)
		json.NewEncoder(w).Encode(intent.PreviewResult{
			Allowed:          true,
			RBACAllowed:      true,
			StateHashValid:   true,
			RequiresApproval: true,
			RiskDelta:        intent.RiskDelta{PostureChange: "halt trading, close all positions"},
			BlastRadius:      intent.BlastRadius{Symbols: []string{"*"}},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, "preview", "FLATTEN", "--addr", srv.URL, "--operator", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed:           true")
	assert.Contains(t, out, "requires approval: true")
	assert.Contains(t, out, "halt trading")
}

func TestStatusListsRecentIntents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/posture":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"posture":    map[string]interface{}{"mode": "paper", "armed": true},
				"state_hash": "abc123",
			})
		case "/api/summaries":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"summaries": []intent.Summary{{
					ID:          "intent-1",
					Type:        intent.TypeArm,
					Status:      intent.StatusVerified,
					OperatorID:  "alice",
					SubmittedAt: time.Now(),
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCommand(t, "status", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "mode:       paper")
	assert.Contains(t, out, "armed:      true")
	assert.Contains(t, out, "intent-1")
	assert.Contains(t, out, "VERIFIED")
}

func TestApprovePostsApprover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/intents/intent-9/approve", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "risk-1", body["approver_id"])
		json.NewEncoder(w).Encode(intent.Intent{ID: "intent-9", Status: intent.StatusExecuting})
	}))
	defer srv.Close()

	out, err := runCommand(t, "approve", "intent-9", "--addr", srv.URL, "--approver", "risk-1")
	require.NoError(t, err)
	assert.Contains(t, out, "intent intent-9 approved")
}

func TestRejectReportsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "intent is not awaiting approval"})
	}))
	defer srv.Close()

	_, err := runCommand(t, "reject", "intent-9", "--addr", srv.URL, "--approver", "risk-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting approval")
}
