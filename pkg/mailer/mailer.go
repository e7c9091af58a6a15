package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/directory"
)

// Attachment is a file sent with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a rendered HTML email.
type Message struct {
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer delivers messages. Implementations return an error wrapping errors.ErrTransport on failure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// New selects the transport named by cfg.Provider. The graph provider requires a configured directory client.
func New(cfg config.MailConfig, dir *directory.Client, logger *zap.Logger) (Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case config.MailProviderSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("mail provider smtp requires SMTP_HOST")
		}
		return NewSMTP(cfg), nil
	case config.MailProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("mail provider sendgrid requires SENDGRID_API_KEY")
		}
		return NewSendGrid(cfg), nil
	case config.MailProviderGraph:
		if !dir.Configured() {
			return nil, fmt.Errorf("mail provider graph requires DIRECTORY_* credentials")
		}
		return NewGraph(dir), nil
	case config.MailProviderLog, "":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// LogMailer writes messages to the logger instead of sending them and keeps them for inspection.
type LogMailer struct {
	logger *zap.Logger
	mu     sync.Mutex
	sent   []Message
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send records msg.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("email captured",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// Name identifies the transport.
func (m *LogMailer) Name() string { return config.MailProviderLog }

// Sent returns a copy of the captured messages.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// graphMailer sends through the directory service mailbox.
type graphMailer struct {
	dir *directory.Client
}

// NewGraph returns a Mailer backed by the directory service sendMail API.
func NewGraph(dir *directory.Client) Mailer {
	return &graphMailer{dir: dir}
}

func (g *graphMailer) Send(ctx context.Context, msg Message) error {
	mail := directory.Mail{To: msg.To, Subject: msg.Subject, HTML: msg.HTML}
	for _, a := range msg.Attachments {
		mail.Attachments = append(mail.Attachments, directory.Attachment{Name: a.Filename, ContentType: a.ContentType, Content: a.Content})
	}
	return g.dir.SendMail(ctx, mail)
}

func (g *graphMailer) Name() string { return config.MailProviderGraph }
