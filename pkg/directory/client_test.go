package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/pkg/config"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeGraph struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	lastMail    sendMailRequest
	lastEvent   eventRequest
	failSend    bool
	lastAuthHdr string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	fg := &fakeGraph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		fg.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/users/trainer@corp.example/sendMail", func(w http.ResponseWriter, r *http.Request) {
		fg.lastAuthHdr = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fg.lastMail))
		if fg.failSend {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"ServiceUnavailable","message":"try later"}}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/users/trainer@corp.example/events", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fg.lastEvent))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"evt-42"}`))
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/missing@corp.example" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"obj-1","displayName":"Ana Lee","mail":"ana@corp.example","department":"HR","accountEnabled":true}`))
	})
	fg.server = httptest.NewServer(mux)
	t.Cleanup(fg.server.Close)
	return fg
}

func (fg *fakeGraph) client() *Client {
	return NewClient(config.DirectoryConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      fg.server.URL,
		TokenURL:     fg.server.URL + "/token",
		Sender:       "trainer@corp.example",
		Timeout:      2 * time.Second,
	}, nil)
}

func TestSendMailCachesTokenAndEncodesAttachments(t *testing.T) {
	fg := newFakeGraph(t)
	c := fg.client()
	require.True(t, c.Configured())

	mail := Mail{
		To:          []string{"ana@corp.example"},
		Subject:     "Certificate",
		HTML:        "<p>hi</p>",
		Attachments: []Attachment{{Name: "cert.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}},
	}
	require.NoError(t, c.SendMail(context.Background(), mail))
	require.NoError(t, c.SendMail(context.Background(), mail))

	assert.EqualValues(t, 1, fg.tokenCalls.Load())
	assert.Equal(t, "Bearer tok-1", fg.lastAuthHdr)
	require.Len(t, fg.lastMail.Message.Attachments, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), fg.lastMail.Message.Attachments[0].ContentBytes)
	assert.Equal(t, "ana@corp.example", fg.lastMail.Message.ToRecipients[0].EmailAddress.Address)
}

func TestSendMailFailureIsTransportError(t *testing.T) {
	fg := newFakeGraph(t)
	fg.failSend = true

	err := fg.client().SendMail(context.Background(), Mail{To: []string{"a@corp.example"}, Subject: "x", HTML: "x"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransport))
	assert.Contains(t, err.Error(), "try later")
}

func TestGetUser(t *testing.T) {
	fg := newFakeGraph(t)
	c := fg.client()

	profile, err := c.GetUser(context.Background(), "ana@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "Ana Lee", profile.DisplayName)
	assert.Equal(t, "HR", profile.Department)

	_, err = c.GetUser(context.Background(), "missing@corp.example")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCreateEvent(t *testing.T) {
	fg := newFakeGraph(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	id, err := fg.client().CreateEvent(context.Background(), Event{
		Subject:   "Leadership 101",
		Start:     start,
		End:       start.Add(2 * time.Hour),
		Location:  "Room 4",
		Attendees: []Attendee{{Email: "ana@corp.example", Name: "Ana Lee"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-42", id)
	assert.Equal(t, "2026-03-02T09:00:00", fg.lastEvent.Start.DateTime)
	require.NotNil(t, fg.lastEvent.Location)
	assert.Equal(t, "Room 4", fg.lastEvent.Location.DisplayName)
	assert.Equal(t, "required", fg.lastEvent.Attendees[0].Type)
}

func TestUnconfiguredSender(t *testing.T) {
	c := NewClient(config.DirectoryConfig{}, nil)
	assert.False(t, c.Configured())
	err := c.SendMail(context.Background(), Mail{})
	assert.True(t, appErrors.Is(err, appErrors.ErrTransport))
}
