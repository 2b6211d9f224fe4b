package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTwilio(t *testing.T, handler http.HandlerFunc) *TwilioNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := NewTwilioNotifier(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550000000",
		BaseURL:    srv.URL,
	}, nil)
	require.NotNil(t, n)
	n.backoff = time.Millisecond
	return n
}

func TestTwilio_SendsForm(t *testing.T) {
	n := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	require.NoError(t, n.Send(context.Background(), Message{To: "+15551234567", Body: "hello"}))
}

func TestTwilio_RetriesServerErrors(t *testing.T) {
	var calls int32
	n := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, n.Send(context.Background(), Message{To: "+15551234567", Body: "hi"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTwilio_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	n := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := n.Send(context.Background(), Message{To: "+15551234567", Body: "hi"})
	assert.ErrorIs(t, err, ErrNotificationFailed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTwilio_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	n := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	})

	err := n.Send(context.Background(), Message{To: "nope", Body: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotificationFailed)
	assert.Contains(t, err.Error(), "21211")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTwilio_Unconfigured(t *testing.T) {
	assert.Nil(t, NewTwilioNotifier(TwilioConfig{}, nil))

	var n *TwilioNotifier
	assert.ErrorIs(t, n.Send(context.Background(), Message{To: "x", Body: "y"}), ErrNotificationFailed)
}

func TestSendGrid_BuildMailWithAttachment(t *testing.T) {
	assert.Nil(t, NewSendGridNotifier(SendGridConfig{}, nil))

	n := NewSendGridNotifier(SendGridConfig{APIKey: "SG.key", FromEmail: "clinic@example.com", FromName: "Clinic"}, nil)
	require.NotNil(t, n)

	m := n.BuildMail(Message{
		To:      "pat@example.com",
		ToName:  "Pat",
		Subject: "Appointment Confirmation & Intake Forms",
		Body:    "see attached",
		Attachments: []Attachment{
			{Filename: "Intake_Form.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
	})

	assert.Equal(t, "clinic@example.com", m.From.Address)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "Intake_Form.pdf", m.Attachments[0].Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), m.Attachments[0].Content)
}

func TestLoadAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Intake_Form.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	a, err := LoadAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "Intake_Form.pdf", a.Filename)
	assert.Equal(t, "application/pdf", a.ContentType)

	_, err = LoadAttachment(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Send(context.Background(), Message{To: "a"}))

	r.Fail = func(Message) error { return errors.New("down") }
	assert.ErrorIs(t, r.Send(context.Background(), Message{To: "b"}), ErrNotificationFailed)

	assert.Len(t, r.Sent(), 1)
}
