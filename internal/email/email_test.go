package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSender_WritesOutbox(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := storage.NewAferoStore(fs)
	sender := NewFileSender("Periskope <login@test>", store)
	sender.now = func() time.Time { return time.Unix(0, 42) }

	err := sender.Send(context.Background(), "ana+x@example.com", "Your login link", `<a href="http://x/verify">log in</a>`)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "42-anax_example.com.html")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: Your login link")
	assert.Contains(t, string(data), `href="http://x/verify"`)
}

func TestResendSender_Send(t *testing.T) {
	var got resendPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	sender := NewResendSender("re_test", "")
	sender.endpoint = srv.URL

	require.NoError(t, sender.Send(context.Background(), "ana@example.com", "Hi", "<p>hi</p>"))
	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "ana@example.com", got.To)
	assert.Equal(t, "Periskope <onboarding@resend.dev>", got.From)
	assert.Equal(t, "<p>hi</p>", got.HTML)
}

func TestResendSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"Invalid to field"}`))
	}))
	defer srv.Close()

	sender := NewResendSender("re_test", "from@test")
	sender.endpoint = srv.URL

	err := sender.Send(context.Background(), "bad", "Hi", "<p>hi</p>")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "422"))
	assert.Contains(t, err.Error(), "Invalid to field")
}

func TestNewEmailService(t *testing.T) {
	const from = "Periskope <login@periskope.test>"
	tests := []struct {
		name     string
		cfg      *config.Config
		wantType any
		wantErr  bool
	}{
		{name: "log", cfg: &config.Config{EmailProvider: "log", EmailSender: from}, wantType: &LogSender{}},
		{name: "default is log", cfg: &config.Config{EmailSender: from}, wantType: &LogSender{}},
		{name: "file", cfg: &config.Config{EmailProvider: "file", EmailSender: from, EmailOutboxDir: t.TempDir()}, wantType: &FileSender{}},
		{name: "file without outbox", cfg: &config.Config{EmailProvider: "file", EmailSender: from}, wantErr: true},
		{name: "resend", cfg: &config.Config{EmailProvider: "Resend", EmailSender: from, EmailAPIKey: "k"}, wantType: &ResendSender{}},
		{name: "resend without key", cfg: &config.Config{EmailProvider: "resend", EmailSender: from}, wantErr: true},
		{name: "no sender address", cfg: &config.Config{EmailProvider: "log"}, wantErr: true},
		{name: "unknown", cfg: &config.Config{EmailProvider: "pigeon", EmailSender: from}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewEmailService(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, sender)
		})
	}
}
