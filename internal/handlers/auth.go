package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/middleware"
	"github.com/nfrund/periskope/internal/view"
)

// defaultStatusWait bounds how long one /auth/status request waits for the
// link to be followed before answering "still pending".
const defaultStatusWait = 20 * time.Second

// AuthHandler handles the magic link login flow.
type AuthHandler struct {
	sessions   domain.SessionProvider
	statusWait time.Duration
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions domain.SessionProvider) *AuthHandler {
	return &AuthHandler{
		sessions:   sessions,
		statusWait: defaultStatusWait,
	}
}

// WithStatusWait overrides how long LoginStatus long-waits.
func (h *AuthHandler) WithStatusWait(d time.Duration) *AuthHandler {
	h.statusWait = d
	return h
}

// LoginGet renders the login page (GET /auth/login).
func (h *AuthHandler) LoginGet(c echo.Context) error {
	if _, ok := middleware.SessionFrom(c); ok {
		return c.Redirect(http.StatusSeeOther, "/chats")
	}

	// Both reads consume flashes from the same cookie.
	data := view.LoginData{Email: view.GetFormEmail(c)}
	flashes := view.GetFlashData(c)
	return render(c, http.StatusOK, view.LoginPage(data, flashes))
}

// LoginPost requests a magic link (POST /auth/login).
func (h *AuthHandler) LoginPost(c echo.Context) error {
	log := middleware.FromContext(c.Request().Context())

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		view.SetFlashError(c, "Please enter a valid email address.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}
	if err := c.Validate(&req); err != nil {
		view.SetFormEmail(c, req.Email)
		view.SetFlashError(c, "Please enter a valid email address.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}

	login, err := h.sessions.RequestMagicLink(c.Request().Context(), req.Email)
	if err != nil {
		view.SetFormEmail(c, req.Email)
		if errors.Is(err, domain.ErrInvalidInput) {
			view.SetFlashError(c, "Please enter a valid email address.")
		} else {
			log.Error("Failed to request magic link", "error", err)
			view.SetFlashError(c, "We could not send a login link. Please try again.")
		}
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}

	if err := middleware.SetPendingLogin(c, login.ID); err != nil {
		log.Error("Failed to save session", "error", err)
		view.SetFlashError(c, "We could not send a login link. Please try again.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}
	return c.Redirect(http.StatusSeeOther, "/auth/pending")
}

// PendingGet tells the user to check their email and polls for the
// confirmation (GET /auth/pending).
func (h *AuthHandler) PendingGet(c echo.Context) error {
	id := middleware.PendingLogin(c)
	if id == "" {
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}

	login, err := h.sessions.LoginStatus(c.Request().Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			middleware.FromContext(c.Request().Context()).Error("Failed to load login request", "request_id", id, "error", err)
		}
		view.SetFlashError(c, "Your login request could not be found. Please request a new link.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}
	if login.Status == domain.LoginConfirmed {
		return h.finishPending(c, id)
	}

	flashes := view.GetFlashData(c)
	return render(c, http.StatusOK, view.LoginPendingPage(login.Email, login.ExpiresAt, flashes))
}

// Verify confirms a magic link and logs this browser in
// (GET /auth/verify?token=...).
func (h *AuthHandler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil || c.Validate(&req) != nil {
		view.SetFlashError(c, "This login link is invalid.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}

	sess, err := h.sessions.ConfirmMagicLink(c.Request().Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			view.SetFlashError(c, "This login link is invalid, expired or was already used.")
		} else {
			middleware.FromContext(c.Request().Context()).Error("Failed to confirm magic link", "error", err)
			view.SetFlashError(c, "We could not log you in. Please try again.")
		}
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}

	if err := middleware.Login(c, sess); err != nil {
		return err
	}
	view.SetFlashSuccess(c, "Welcome, "+sess.Label+"!")
	return c.Redirect(http.StatusSeeOther, "/chats")
}

// Status long-waits for the pending login of this browser (GET /auth/status).
// A confirmed login is established here too, so the link can be opened on
// another device.
func (h *AuthHandler) Status(c echo.Context) error {
	id := middleware.PendingLogin(c)
	if id == "" {
		c.Response().Header().Set("HX-Redirect", "/auth/login")
		return c.NoContent(http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.statusWait)
	defer cancel()

	sess, err := h.sessions.WaitForConfirmation(ctx, id)
	switch {
	case err == nil:
		if err := middleware.Login(c, sess); err != nil {
			return err
		}
		c.Response().Header().Set("HX-Redirect", "/chats")
		return c.NoContent(http.StatusOK)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Still pending; htmx keeps the current poller on 204.
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrNotFound):
		return render(c, http.StatusOK, view.LoginExpired())
	default:
		middleware.FromContext(c.Request().Context()).Warn("Failed to check login status", "request_id", id, "error", err)
		return c.NoContent(http.StatusNoContent)
	}
}

// Logout clears the session (POST /auth/logout).
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := middleware.Logout(c); err != nil {
		return err
	}
	view.SetFlashSuccess(c, "You have been logged out.")
	return c.Redirect(http.StatusSeeOther, "/auth/login")
}

func (h *AuthHandler) finishPending(c echo.Context, id string) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.statusWait)
	defer cancel()
	sess, err := h.sessions.WaitForConfirmation(ctx, id)
	if err != nil {
		view.SetFlashError(c, "We could not log you in. Please try again.")
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	}
	if err := middleware.Login(c, sess); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/chats")
}
