package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/lms-api/pkg/config"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

type sendGridMailer struct {
	key  string
	host string
	from *sgmail.Email
}

// NewSendGrid returns a Mailer using the SendGrid v3 API.
func NewSendGrid(cfg config.MailConfig) Mailer {
	return &sendGridMailer{
		key:  cfg.SendGridAPIKey,
		host: sendGridHost,
		from: sgmail.NewEmail(cfg.FromName, cfg.From),
	}
}

func (s *sendGridMailer) Name() string { return config.MailProviderSendGrid }

func (s *sendGridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail("", to))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", msg.HTML))

	for _, a := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func (s *sendGridMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "sendgrid request failed")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return appErrors.Wrap(fmt.Errorf("status %d: %s", res.StatusCode, res.Body), appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "sendgrid rejected message")
	}
	return nil
}
