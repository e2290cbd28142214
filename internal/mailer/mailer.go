package mailer

import (
	"fmt"
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	mail "github.com/wneessen/go-mail"
)

// Message is the contract with the SMTP collaborator: a recipient, subject
// line, a title and HTML-permitted subtitle for the rendered header, and the
// plain body text.
type Message struct {
	To       string
	Subject  string
	Title    string
	Subtitle string
	Body     string
}

// Mailer delivers messages. Failures are reported to the caller, who logs
// and carries on; a failed send never fails the originating request.
type Mailer interface {
	Send(msg Message) error
	Close() error
}

// SMTP is a process-wide pooled SMTP client. A mutex serialises sends so
// only one delivery proceeds at a time.
type SMTP struct {
	mu     sync.Mutex
	client *mail.Client
	sender string
	policy *bluemonday.Policy
	logger zerolog.Logger
}

// SMTPConfig carries the outbound mail endpoint and credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// NewSMTP dials nothing up front; the client connects per send and reuses
// the connection where the server allows it.
func NewSMTP(cfg SMTPConfig, logger zerolog.Logger) (*SMTP, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}

	return &SMTP{
		client: client,
		sender: cfg.Sender,
		policy: bluemonday.UGCPolicy(),
		logger: logger.With().Str("component", "mailer").Logger(),
	}, nil
}

// Send delivers one message. The subtitle may carry HTML; it is sanitised
// before rendering.
func (m *SMTP) Send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := mail.NewMsg()
	if err := out.From(m.sender); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Title+"\n\n"+msg.Body)
	out.AddAlternativeString(mail.TypeTextHTML, m.renderHTML(msg))

	if err := m.client.DialAndSend(out); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}

	m.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("mail sent")
	return nil
}

func (m *SMTP) renderHTML(msg Message) string {
	subtitle := m.policy.Sanitize(msg.Subtitle)
	return fmt.Sprintf(
		"<html><body><h1>%s</h1><h3>%s</h3><p>%s</p></body></html>",
		html.EscapeString(msg.Title), subtitle, html.EscapeString(msg.Body),
	)
}

// Close tears down the pooled client.
func (m *SMTP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.Close()
}

// Console logs messages instead of delivering them. Used in development and
// tests; it records what it would have sent.
type Console struct {
	mu     sync.Mutex
	sent   []Message
	logger zerolog.Logger
}

// NewConsole builds a recording mailer.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{logger: logger.With().Str("component", "console_mailer").Logger()}
}

func (m *Console) Send(msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("mail (console)")
	return nil
}

// Sent returns a copy of every recorded message.
func (m *Console) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *Console) Close() error { return nil }
