package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfabric/opscore/internal/alerttmpl"
	"github.com/quantfabric/opscore/internal/intent"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyIntentAlert sends a rendered intent transition alert.
func (n *Notifier) NotifyIntentAlert(ctx context.Context, d alerttmpl.Data) error {
	return n.Send(ctx, alerttmpl.RenderHTML(d))
}

// NotifyStartup announces the daemon coming up with its operating mode.
func (n *Notifier) NotifyStartup(ctx context.Context, mode string, armed bool) error {
	state := "disarmed"
	if armed {
		state = "armed"
	}
	msg := fmt.Sprintf("<b>opscore started</b>\nMode: %s\nState: %s", mode, state)
	return n.Send(ctx, msg)
}

// NotifyHalt announces a halt after a FLATTEN took effect.
func (n *Notifier) NotifyHalt(ctx context.Context, symbols []string) error {
	msg := "<b>TRADING HALTED</b>\nPositions flattened. Arming required to resume."
	if len(symbols) > 0 {
		msg += "\nSymbols: " + fmt.Sprint(symbols)
	}
	return n.Send(ctx, msg)
}

// Pump decouples alert delivery from the control service's event bus.
// Bus subscribers run under the service lock and must not block, so Handle
// only enqueues; a worker goroutine does the HTTP sends.
type Pump struct {
	notifier *Notifier
	events   chan alerttmpl.Data
	done     chan struct{}
}

// NewPump creates a Pump with a bounded queue. A full queue drops the alert;
// the intent log remains the source of truth, alerting is best-effort.
func NewPump(n *Notifier) *Pump {
	return &Pump{
		notifier: n,
		events:   make(chan alerttmpl.Data, 64),
		done:     make(chan struct{}),
	}
}

// Handle enqueues an alert for a transition if it warrants one. Safe to call
// from a bus subscriber; never blocks.
func (p *Pump) Handle(in intent.Intent, status intent.Status, at time.Time) {
	if !alerttmpl.ShouldAlert(status, in.Type) {
		return
	}
	select {
	case p.events <- alerttmpl.Build(in, status, at):
	default:
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.events:
			if err := p.notifier.NotifyIntentAlert(ctx, d); err != nil {
				log.Printf("notify: intent alert: %v", err)
			}
		}
	}
}

// Wait blocks until Run has returned.
func (p *Pump) Wait() { <-p.done }
