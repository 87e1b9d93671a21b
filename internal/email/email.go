package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/storage"
)

// --- LogSender (for development) ---

// LogSender prints emails to the log instead of sending them.
type LogSender struct {
	senderAddress string
}

// Send logs the email content.
func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	slog.InfoContext(ctx, "Email sent (logged)",
		"from", s.senderAddress,
		"to", to,
		"subject", subject,
		"body", htmlBody,
	)
	return nil
}

// --- FileSender (for local testing of the magic link flow) ---

// FileSender writes each email as an .html file into an outbox so links can
// be opened from disk.
type FileSender struct {
	senderAddress string
	store         storage.Store
	now           func() time.Time
}

// NewFileSender creates a FileSender writing into store.
func NewFileSender(senderAddress string, store storage.Store) *FileSender {
	return &FileSender{senderAddress: senderAddress, store: store, now: time.Now}
}

// Send stores the email under <unix-nanos>-<recipient>.html.
func (s *FileSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	name := fmt.Sprintf("%d-%s.html", s.now().UnixNano(), sanitize(to))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!-- From: %s -->\n<!-- To: %s -->\n<!-- Subject: %s -->\n", s.senderAddress, to, subject)
	buf.WriteString(htmlBody)

	if _, err := s.store.Save(ctx, name, &buf); err != nil {
		return fmt.Errorf("failed to write email to outbox: %w", err)
	}
	slog.InfoContext(ctx, "Email written to outbox", "to", to, "file", name)
	return nil
}

func sanitize(addr string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == '@':
			return '_'
		default:
			return -1
		}
	}, addr)
}

// --- ResendSender (for production) ---

const resendEndpoint = "https://api.resend.com/emails"

// ResendSender sends emails using the Resend API.
type ResendSender struct {
	apiKey        string
	senderAddress string
	client        *resty.Client
	endpoint      string
}

// NewResendSender creates a sender for the Resend API.
func NewResendSender(apiKey, senderAddress string) *ResendSender {
	return &ResendSender{
		apiKey:        apiKey,
		senderAddress: senderAddress,
		client:        resty.New().SetTimeout(10 * time.Second),
		endpoint:      resendEndpoint,
	}
}

type resendPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send dispatches an email using the Resend API.
func (s *ResendSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	sender := s.senderAddress
	if sender == "" {
		sender = "Periskope <onboarding@resend.dev>"
	}

	var apiErr resendError
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(resendPayload{
			From:    sender,
			To:      to,
			Subject: subject,
			HTML:    htmlBody,
		}).
		SetError(&apiErr).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request to resend: %w", err)
	}

	if resp.IsError() {
		if apiErr.Message != "" {
			return fmt.Errorf("resend API returned an error: status %d: %s", resp.StatusCode(), apiErr.Message)
		}
		return fmt.Errorf("resend API returned an error: status %d", resp.StatusCode())
	}

	slog.InfoContext(ctx, "Successfully sent email via Resend", "to", to, "subject", subject)
	return nil
}

var (
	_ domain.EmailSender = (*LogSender)(nil)
	_ domain.EmailSender = (*FileSender)(nil)
	_ domain.EmailSender = (*ResendSender)(nil)
)
