package mailing

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// Outgoing is one rendered message ready for the wire.
type Outgoing struct {
	From     domain.Sender
	To       domain.Recipient
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
	OwnerID  string
	SendID   string
	Campaign string
}

// Transport delivers one message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Outgoing) (string, error)
}

// SMTPTransport delivers over plain SMTP. Credentials are optional; open
// relays and local sinks need none.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (t *SMTPTransport) Send(ctx context.Context, msg Outgoing) (string, error) {
	if t.Host == "" {
		return "", domain.E(domain.KindPermanentDependency, "SMTP_UNCONFIGURED", "smtp host missing")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From.Email
	if msg.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", msg.From.Name, msg.From.Email)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	for k, v := range msg.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTML)

	var auth smtp.Auth
	if t.Username != "" {
		auth = smtp.PlainAuth("", t.Username, t.Password, t.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
	if err := smtp.SendMail(addr, auth, msg.From.Email, []string{msg.To.Email}, []byte(b.String())); err != nil {
		return "", domain.Wrap(domain.KindTransientDependency, "SMTP_SEND", "message delivery failed", err)
	}
	return uuid.New().String(), nil
}

// RecordingTransport captures messages for tests. FailFor lists recipient
// emails that should error.
type RecordingTransport struct {
	mu      sync.Mutex
	sent    []Outgoing
	FailFor map[string]string
}

func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{FailFor: make(map[string]string)}
}

func (t *RecordingTransport) Send(ctx context.Context, msg Outgoing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if reason, ok := t.FailFor[msg.To.Email]; ok {
		return "", domain.E(domain.KindTransientDependency, "SMTP_SEND", reason)
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()
	return fmt.Sprintf("msg-%d", len(t.sent)), nil
}

// Sent returns a copy of delivered messages in order.
func (t *RecordingTransport) Sent() []Outgoing {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Outgoing, len(t.sent))
	copy(out, t.sent)
	return out
}
