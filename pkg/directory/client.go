package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/config"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Profile is the subset of a directory user the LMS reads.
type Profile struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	GivenName      string `json:"givenName"`
	Surname        string `json:"surname"`
	Mail           string `json:"mail"`
	JobTitle       string `json:"jobTitle"`
	Department     string `json:"department"`
	EmployeeID     string `json:"employeeId"`
	AccountEnabled bool   `json:"accountEnabled"`
}

// Attachment is a file attached to a directory mail.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Mail is a message sent on behalf of the configured sender mailbox.
type Mail struct {
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Event is a calendar invitation created in the sender's calendar.
type Event struct {
	Subject   string
	HTML      string
	Start     time.Time
	End       time.Time
	Location  string
	OnlineURL string
	Attendees []Attendee
}

// Attendee is a required participant of an Event.
type Attendee struct {
	Email string
	Name  string
}

// Client talks to a Graph-style directory API using client-credential tokens.
type Client struct {
	http   *resty.Client
	cfg    config.DirectoryConfig
	logger *zap.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient constructs a directory client. BaseURL falls back to the public Graph endpoint.
func NewClient(cfg config.DirectoryConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.Configured()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// accessToken returns a cached token, refreshing it a minute before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}

	var result tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"scope":         "https://graph.microsoft.com/.default",
			"grant_type":    "client_credentials",
		}).
		SetResult(&result).
		Post(c.cfg.TokenEndpoint())
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory token request failed")
	}
	if resp.IsError() || result.AccessToken == "" {
		return "", appErrors.Wrap(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory authentication failed")
	}

	lifetime := time.Duration(result.ExpiresIn) * time.Second
	if lifetime > 2*time.Minute {
		lifetime -= time.Minute
	}
	c.token = result.AccessToken
	c.expires = time.Now().Add(lifetime)
	c.logger.Debug("directory token refreshed", zap.Duration("lifetime", lifetime))
	return c.token, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token).SetError(&graphError{}), nil
}

func transportError(resp *resty.Response, action string) error {
	detail := resp.String()
	if ge, ok := resp.Error().(*graphError); ok && ge.Error.Message != "" {
		detail = ge.Error.Code + ": " + ge.Error.Message
	}
	return appErrors.Wrap(fmt.Errorf("status %d: %s", resp.StatusCode(), detail), appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, action+" failed")
}

// GetUser looks up a directory profile by email or object id.
func (c *Client) GetUser(ctx context.Context, idOrEmail string) (*Profile, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var profile Profile
	resp, err := req.
		SetQueryParam("$select", "id,displayName,givenName,surname,mail,jobTitle,department,employeeId,accountEnabled").
		SetResult(&profile).
		Get("/users/" + url.PathEscape(idOrEmail))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory user lookup failed")
	}
	if resp.StatusCode() == 404 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "directory user not found")
	}
	if resp.IsError() {
		return nil, transportError(resp, "directory user lookup")
	}
	return &profile, nil
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type sendMailRequest struct {
	Message struct {
		Subject      string           `json:"subject"`
		Body         itemBody         `json:"body"`
		ToRecipients []recipient      `json:"toRecipients"`
		Attachments  []fileAttachment `json:"attachments,omitempty"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// SendMail sends m from the configured sender mailbox.
func (c *Client) SendMail(ctx context.Context, m Mail) error {
	if c.cfg.Sender == "" {
		return appErrors.Clone(appErrors.ErrTransport, "directory sender mailbox not configured")
	}
	var body sendMailRequest
	body.Message.Subject = m.Subject
	body.Message.Body = itemBody{ContentType: "HTML", Content: m.HTML}
	for _, to := range m.To {
		body.Message.ToRecipients = append(body.Message.ToRecipients, recipient{EmailAddress: emailAddress{Address: to}})
	}
	for _, a := range m.Attachments {
		body.Message.Attachments = append(body.Message.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         a.Name,
			ContentType:  a.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetBody(body).Post("/users/" + url.PathEscape(c.cfg.Sender) + "/sendMail")
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory send mail failed")
	}
	if resp.IsError() {
		return transportError(resp, "directory send mail")
	}
	return nil
}

type dateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventAttendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type eventLocation struct {
	DisplayName string `json:"displayName"`
}

type eventRequest struct {
	Subject          string          `json:"subject"`
	Body             itemBody        `json:"body"`
	Start            dateTimeZone    `json:"start"`
	End              dateTimeZone    `json:"end"`
	Location         *eventLocation  `json:"location,omitempty"`
	Attendees        []eventAttendee `json:"attendees"`
	IsOnlineMeeting  bool            `json:"isOnlineMeeting"`
	OnlineMeetingURL string          `json:"onlineMeetingUrl,omitempty"`
}

// CreateEvent creates a calendar event in the sender's calendar and returns its id.
func (c *Client) CreateEvent(ctx context.Context, e Event) (string, error) {
	if c.cfg.Sender == "" {
		return "", appErrors.Clone(appErrors.ErrTransport, "directory sender mailbox not configured")
	}
	const layout = "2006-01-02T15:04:05"
	body := eventRequest{
		Subject:          e.Subject,
		Body:             itemBody{ContentType: "HTML", Content: e.HTML},
		Start:            dateTimeZone{DateTime: e.Start.UTC().Format(layout), TimeZone: "UTC"},
		End:              dateTimeZone{DateTime: e.End.UTC().Format(layout), TimeZone: "UTC"},
		IsOnlineMeeting:  e.OnlineURL != "",
		OnlineMeetingURL: e.OnlineURL,
	}
	if e.Location != "" {
		body.Location = &eventLocation{DisplayName: e.Location}
	}
	for _, a := range e.Attendees {
		body.Attendees = append(body.Attendees, eventAttendee{EmailAddress: emailAddress{Address: a.Email, Name: a.Name}, Type: "required"})
	}

	req, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	resp, err := req.SetBody(body).SetResult(&created).Post("/users/" + url.PathEscape(c.cfg.Sender) + "/events")
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory create event failed")
	}
	if resp.IsError() {
		return "", transportError(resp, "directory create event")
	}
	return created.ID, nil
}
