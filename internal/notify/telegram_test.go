package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantfabric/opscore/internal/alerttmpl"
	"github.com/quantfabric/opscore/internal/intent"
)

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
}

func TestNewNotifierEnabled(t *testing.T) {
	n := NewNotifier("bot123", "chat456")
	if !n.Enabled() {
		t.Fatal("expected enabled notifier with credentials")
	}
}

func TestSendDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func testNotifier(server *httptest.Server) *Notifier {
	return &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: server.Client(),
		enabled:    true,
		baseURL:    server.URL,
	}
}

func TestSendSuccess(t *testing.T) {
	var receivedChatID, receivedText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedChatID = r.URL.Query().Get("chat_id")
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := testNotifier(server)
	if err := n.Send(context.Background(), "hello world"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if receivedChatID != "test-chat" {
		t.Errorf("expected chat_id=test-chat, got %s", receivedChatID)
	}
	if receivedText != "hello world" {
		t.Errorf("expected text=hello world, got %s", receivedText)
	}
}

func TestNotifyHaltListsSymbols(t *testing.T) {
	var receivedText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := testNotifier(server)
	if err := n.NotifyHalt(context.Background(), []string{"BTC", "ETH"}); err != nil {
		t.Fatalf("halt notice should succeed: %v", err)
	}
	if !strings.Contains(receivedText, "TRADING HALTED") {
		t.Errorf("halt notice missing header: %s", receivedText)
	}
	if !strings.Contains(receivedText, "BTC") || !strings.Contains(receivedText, "ETH") {
		t.Errorf("halt notice missing symbols: %s", receivedText)
	}
}

func TestSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(map[string]string{"description": "bad request"}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	if err := testNotifier(server).Send(context.Background(), "test"); err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestNotifyIntentAlertDisabled(t *testing.T) {
	n := NewNotifier("", "")
	d := alerttmpl.Data{IntentID: "int-1", Type: intent.TypeArm, Status: intent.StatusFailed}
	if err := n.NotifyIntentAlert(context.Background(), d); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestPumpDeliversFilteredAlerts(t *testing.T) {
	texts := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		texts <- r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	p := NewPump(testNotifier(server))
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	now := time.Now()
	failed := intent.Intent{ID: "int-1", Type: intent.TypeArm, OperatorID: "alice",
		Receipt: &intent.Receipt{Error: "boom"}}
	p.Handle(failed, intent.StatusFailed, now)

	// VERIFIED ARM is routine, no alert.
	ok := intent.Intent{ID: "int-2", Type: intent.TypeArm, OperatorID: "alice"}
	p.Handle(ok, intent.StatusVerified, now)

	select {
	case text := <-texts:
		if !strings.Contains(text, "int-1") || !strings.Contains(text, "boom") {
			t.Fatalf("unexpected alert text: %s", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an alert for the failed intent")
	}

	select {
	case text := <-texts:
		t.Fatalf("unexpected second alert: %s", text)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	p.Wait()
}
