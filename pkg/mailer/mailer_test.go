package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/directory"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func TestNewSelectsProvider(t *testing.T) {
	m, err := New(config.MailConfig{Provider: "log"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.MailProviderLog, m.Name())

	m, err = New(config.MailConfig{Provider: "SMTP", SMTPHost: "mail.local", SMTPPort: 25}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.MailProviderSMTP, m.Name())

	_, err = New(config.MailConfig{Provider: "sendgrid"}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.MailConfig{Provider: "graph"}, directory.NewClient(config.DirectoryConfig{}, nil), nil)
	assert.Error(t, err)

	_, err = New(config.MailConfig{Provider: "pigeon"}, nil, nil)
	assert.Error(t, err)
}

func TestLogMailerCapturesMessages(t *testing.T) {
	m := NewLogMailer(nil)
	require.NoError(t, m.Send(context.Background(), Message{To: []string{"a@corp.example"}, Subject: "hi"}))
	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Subject)
}

func TestSMTPComposeIncludesAttachment(t *testing.T) {
	m := NewSMTP(config.MailConfig{SMTPHost: "mail.local", SMTPPort: 25, From: "noreply@corp.example", FromName: "Training"}).(*smtpMailer)
	msg := Message{
		To:          []string{"ana@corp.example"},
		Subject:     "Certificate ready",
		HTML:        "<p>hello</p>",
		Attachments: []Attachment{{Filename: "CERT-1.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")}},
	}
	composed, err := m.compose(msg)
	require.NoError(t, err)

	var raw bytes.Buffer
	_, err = composed.WriteTo(&raw)
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(&raw)
	require.NoError(t, err)
	assert.Equal(t, "Certificate ready", parsed.Header.Get("Subject"))
	assert.Contains(t, parsed.Header.Get("To"), "ana@corp.example")
	assert.Contains(t, parsed.Header.Get("From"), "noreply@corp.example")
	assert.Contains(t, parsed.Header.Get("Content-Type"), "multipart/mixed")

	body, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CERT-1.pdf")
	assert.Contains(t, string(body), "application/pdf")
	assert.Contains(t, string(body), "text/html")
}

func TestSMTPComposeRejectsInvalidRecipient(t *testing.T) {
	m := NewSMTP(config.MailConfig{SMTPHost: "mail.local", SMTPPort: 25, From: "noreply@corp.example"}).(*smtpMailer)
	_, err := m.compose(Message{To: []string{"not an address"}, Subject: "hi"})
	assert.Error(t, err)
}

func TestSendGridPostsMail(t *testing.T) {
	var captured map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sendGridEndpoint, r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSendGrid(config.MailConfig{SendGridAPIKey: "SG.key", From: "noreply@corp.example", FromName: "Training"}).(*sendGridMailer)
	m.host = srv.URL

	err := m.Send(context.Background(), Message{
		To:          []string{"ana@corp.example"},
		Subject:     "Enrolled",
		HTML:        "<p>x</p>",
		Attachments: []Attachment{{Filename: "a.pdf", ContentType: "application/pdf", Content: []byte("pdf")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer SG.key", auth)
	from := captured["from"].(map[string]any)
	assert.Equal(t, "noreply@corp.example", from["email"])
	attachments := captured["attachments"].([]any)
	assert.Len(t, attachments, 1)
}

func TestSendGridRejectionIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	m := NewSendGrid(config.MailConfig{SendGridAPIKey: "bad", From: "noreply@corp.example"}).(*sendGridMailer)
	m.host = srv.URL

	err := m.Send(context.Background(), Message{To: []string{"a@corp.example"}, Subject: "x", HTML: "x"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransport))
}

func TestTemplatesEscapeUserInput(t *testing.T) {
	msg, err := EnrollmentMessage("ana@corp.example", EnrollmentEmail{
		Name:        "<script>x</script>",
		CourseTitle: "Negotiation",
		RoundName:   "Q1",
		StartDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		PortalURL:   "https://lms.corp.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "Enrolled: Negotiation", msg.Subject)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "2 March 2026")
	assert.Contains(t, msg.HTML, "https://lms.corp.example")
}

func TestCertificateMessageAttachesPDF(t *testing.T) {
	msg, err := CertificateMessage("ana@corp.example", CertificateEmail{Name: "Ana", CourseTitle: "Safety", CertificateNumber: "CERT-2026-0001"}, []byte("%PDF"))
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "CERT-2026-0001.pdf", msg.Attachments[0].Filename)
}
