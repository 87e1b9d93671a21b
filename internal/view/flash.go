package view

import (
	"log/slog"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	flashSessionName = "flash-session"
	flashKeySuccess  = "success"
	flashKeyError    = "error"
	flashKeyEmail    = "form_email"
)

// FlashData carries one-shot messages from a redirect to the next page render.
type FlashData struct {
	Success []string
	Error   []string
}

// setFlash sets a flash message in the session.
func setFlash(c echo.Context, key, message string) {
	sess, err := session.Get(flashSessionName, c)
	if err != nil {
		slog.Warn("Flash session unavailable", "error", err)
		return
	}
	sess.AddFlash(message, key)
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		slog.Warn("Failed to save flash message", "error", err)
	}
}

// SetFlashSuccess sets a success flash message.
func SetFlashSuccess(c echo.Context, message string) {
	setFlash(c, flashKeySuccess, message)
}

// SetFlashError sets an error flash message.
func SetFlashError(c echo.Context, message string) {
	setFlash(c, flashKeyError, message)
}

// SetFormEmail keeps a submitted address so the login form can be pre-filled.
func SetFormEmail(c echo.Context, email string) {
	setFlash(c, flashKeyEmail, email)
}

// GetFlashData retrieves and clears flash messages from the session.
func GetFlashData(c echo.Context) FlashData {
	var data FlashData
	sess, err := session.Get(flashSessionName, c)
	if err != nil {
		return data
	}

	data.Success = flashStrings(sess.Flashes(flashKeySuccess))
	data.Error = flashStrings(sess.Flashes(flashKeyError))
	if len(data.Success) > 0 || len(data.Error) > 0 {
		_ = sess.Save(c.Request(), c.Response())
	}
	return data
}

// GetFormEmail retrieves and clears the email kept by SetFormEmail.
func GetFormEmail(c echo.Context) string {
	sess, err := session.Get(flashSessionName, c)
	if err != nil {
		return ""
	}
	values := flashStrings(sess.Flashes(flashKeyEmail))
	if len(values) == 0 {
		return ""
	}
	_ = sess.Save(c.Request(), c.Response())
	return values[0]
}

func flashStrings(flashes []any) []string {
	out := make([]string, 0, len(flashes))
	for _, f := range flashes {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
