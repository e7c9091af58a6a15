package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const layout = `<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#1f2933">
{{block "content" .}}{{end}}
{{if .PortalURL}}<p><a href="{{.PortalURL}}">Open the training portal</a></p>{{end}}
<p style="color:#7b8794;font-size:12px">This message was sent by the corporate training portal.</p>
</body></html>`

var templates = map[string]string{
	"enrollment": `{{define "content"}}<p>Hi {{.Name}},</p>
<p>You are enrolled in <strong>{{.CourseTitle}}</strong> ({{.RoundName}}), starting {{date .StartDate}}.</p>
{{if .Venue}}<p>Venue: {{.Venue}}</p>{{end}}{{if .TeamsLink}}<p>Join online: <a href="{{.TeamsLink}}">{{.TeamsLink}}</a></p>{{end}}{{end}}`,
	"welcome": `{{define "content"}}<p>Welcome {{.Name}},</p>
<p>Your training portal account <strong>{{.Email}}</strong> is ready.</p>{{end}}`,
	"completion": `{{define "content"}}<p>Congratulations {{.Name}},</p>
<p>You completed <strong>{{.CourseTitle}}</strong> ({{.RoundName}}) on {{date .CompletedAt}}.</p>{{end}}`,
	"certificate": `{{define "content"}}<p>Hi {{.Name}},</p>
<p>Your certificate <strong>{{.CertificateNumber}}</strong> for {{.CourseTitle}} is attached.</p>
{{if .DownloadURL}}<p>You can also <a href="{{.DownloadURL}}">download it here</a>.</p>{{end}}{{end}}`,
	"reminder": `{{define "content"}}<p>Hi {{.Name}},</p>
<p>Reminder: <strong>{{.SessionTitle}}</strong> of {{.CourseTitle}} ({{.RoundName}}) starts {{datetime .StartTime}}.</p>
{{if .Location}}<p>Location: {{.Location}}</p>{{end}}{{if .TeamsLink}}<p>Join online: <a href="{{.TeamsLink}}">{{.TeamsLink}}</a></p>{{end}}{{end}}`,
}

var funcs = template.FuncMap{
	"date":     func(t time.Time) string { return t.Format("2 January 2006") },
	"datetime": func(t time.Time) string { return t.Format("2 January 2006 15:04 MST") },
}

var parsed = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(templates))
	for name, body := range templates {
		base := template.Must(template.New(name).Funcs(funcs).Parse(layout))
		out[name] = template.Must(base.Parse(body))
	}
	return out
}()

func render(name string, data any) (string, error) {
	tpl, ok := parsed[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// EnrollmentEmail confirms an enrollment to the enrollee.
type EnrollmentEmail struct {
	Name        string
	CourseTitle string
	RoundName   string
	StartDate   time.Time
	Venue       string
	TeamsLink   string
	PortalURL   string
}

// WelcomeEmail greets a newly provisioned user.
type WelcomeEmail struct {
	Name      string
	Email     string
	PortalURL string
}

// CompletionEmail congratulates a user on completing a round.
type CompletionEmail struct {
	Name        string
	CourseTitle string
	RoundName   string
	CompletedAt time.Time
	PortalURL   string
}

// CertificateEmail delivers an issued certificate.
type CertificateEmail struct {
	Name              string
	CourseTitle       string
	CertificateNumber string
	DownloadURL       string
	PortalURL         string
}

// ReminderEmail announces an upcoming session.
type ReminderEmail struct {
	Name         string
	SessionTitle string
	CourseTitle  string
	RoundName    string
	StartTime    time.Time
	Location     string
	TeamsLink    string
	PortalURL    string
}

// EnrollmentMessage renders the enrollee confirmation.
func EnrollmentMessage(to string, data EnrollmentEmail) (Message, error) {
	html, err := render("enrollment", data)
	return Message{To: []string{to}, Subject: "Enrolled: " + data.CourseTitle, HTML: html}, err
}

// WelcomeMessage renders the account welcome.
func WelcomeMessage(to string, data WelcomeEmail) (Message, error) {
	html, err := render("welcome", data)
	return Message{To: []string{to}, Subject: "Welcome to the training portal", HTML: html}, err
}

// CompletionMessage renders the completion notice.
func CompletionMessage(to string, data CompletionEmail) (Message, error) {
	html, err := render("completion", data)
	return Message{To: []string{to}, Subject: "Completed: " + data.CourseTitle, HTML: html}, err
}

// CertificateMessage renders the certificate delivery with the PDF attached.
func CertificateMessage(to string, data CertificateEmail, pdf []byte) (Message, error) {
	html, err := render("certificate", data)
	msg := Message{To: []string{to}, Subject: "Your certificate: " + data.CourseTitle, HTML: html}
	if len(pdf) > 0 {
		msg.Attachments = []Attachment{{Filename: data.CertificateNumber + ".pdf", ContentType: "application/pdf", Content: pdf}}
	}
	return msg, err
}

// ReminderMessage renders an upcoming session reminder.
func ReminderMessage(to string, data ReminderEmail) (Message, error) {
	html, err := render("reminder", data)
	return Message{To: []string{to}, Subject: "Reminder: " + data.SessionTitle, HTML: html}, err
}
