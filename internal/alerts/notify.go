package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// Notification records one delivery attempt to one channel.
type Notification struct {
	IncidentID  string    `json:"incident_id"`
	ChannelType string    `json:"channel_type"`
	Target      string    `json:"target"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Notifier delivers one incident to one channel type.
type Notifier interface {
	Notify(ctx context.Context, incident *Incident, target string) error
}

// EmailNotifier sends plaintext incident mail over SMTP. An empty host or
// recipient logs the would-be send instead, which keeps dev environments
// quiet.
type EmailNotifier struct {
	Host string
	Port int
	From string
}

func (n *EmailNotifier) Notify(ctx context.Context, inc *Incident, target string) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(inc.Severity)), inc.RuleName)
	body := fmt.Sprintf(`Alert Incident
==============

Rule:      %s
Metric:    %s
Observed:  %.2f
Threshold: %.2f
Severity:  %s
Opened:    %s

---
Automated alert, incident id %s.
`,
		inc.RuleName, inc.Metric, inc.Value, inc.Threshold,
		inc.Severity, inc.OpenedAt.Format(time.RFC3339), inc.ID)

	if n.Host == "" || target == "" {
		logger.Info("alert email would send, smtp not configured",
			"incident", inc.ID, "subject", subject)
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		n.From, target, subject, body)
	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	if err := smtp.SendMail(addr, nil, n.From, []string{target}, []byte(msg)); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "SMTP_SEND", "alert email failed", err)
	}
	return nil
}

// WebhookNotifier POSTs the raw incident envelope to a generic endpoint.
type WebhookNotifier struct {
	Client *http.Client
}

func (n *WebhookNotifier) Notify(ctx context.Context, inc *Incident, target string) error {
	payload := map[string]interface{}{
		"incident":  inc,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"type":      "alert",
	}
	return n.post(ctx, target, payload)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransientDependency, "WEBHOOK_SEND", "alert webhook failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.E(domain.KindTransientDependency, "WEBHOOK_STATUS",
			fmt.Sprintf("alert webhook returned %d", resp.StatusCode))
	}
	return nil
}

// ChatNotifier posts a severity-colored card to a team-chat webhook.
type ChatNotifier struct {
	Client *http.Client
}

func severityColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "#8b0000"
	case SeverityHigh:
		return "#d32f2f"
	case SeverityMedium:
		return "#f57c00"
	default:
		return "#2e7d32"
	}
}

func (n *ChatNotifier) Notify(ctx context.Context, inc *Incident, target string) error {
	card := map[string]interface{}{
		"attachments": []map[string]interface{}{{
			"color": severityColor(inc.Severity),
			"title": inc.RuleName,
			"fields": []map[string]interface{}{
				{"title": "Severity", "value": string(inc.Severity), "short": true},
				{"title": "Status", "value": string(inc.Status), "short": true},
				{"title": "Value", "value": fmt.Sprintf("%.2f", inc.Value), "short": true},
				{"title": "Threshold", "value": fmt.Sprintf("%.2f", inc.Threshold), "short": true},
				{"title": "Triggered", "value": inc.OpenedAt.UTC().Format(time.RFC3339), "short": true},
			},
			"ts": inc.OpenedAt.Unix(),
		}},
	}
	wh := WebhookNotifier{Client: n.Client}
	return wh.post(ctx, target, card)
}
