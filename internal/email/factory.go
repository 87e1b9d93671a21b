package email

import (
	"fmt"
	"strings"

	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/storage"
)

// NewEmailService picks the sender named by EMAIL_PROVIDER. Development
// setups use "log" or "file"; production uses "resend".
func NewEmailService(cfg config.Provider) (domain.EmailSender, error) {
	from := cfg.GetEmailSender()
	if from == "" {
		return nil, fmt.Errorf("%w: EMAIL_SENDER is empty", domain.ErrInvalidInput)
	}

	switch provider := strings.ToLower(cfg.GetEmailProvider()); provider {
	case "", "log":
		return &LogSender{senderAddress: from}, nil
	case "file":
		dir := cfg.GetEmailOutboxDir()
		if dir == "" {
			return nil, fmt.Errorf("%w: email provider %q needs EMAIL_OUTBOX_DIR", domain.ErrInvalidInput, provider)
		}
		return NewFileSender(from, storage.NewDiskStore(dir)), nil
	case "resend":
		key := cfg.GetEmailAPIKey()
		if key == "" {
			return nil, fmt.Errorf("%w: email provider %q needs EMAIL_API_KEY", domain.ErrInvalidInput, provider)
		}
		return NewResendSender(key, from), nil
	default:
		return nil, fmt.Errorf("%w: unknown email provider %q", domain.ErrInvalidInput, provider)
	}
}
