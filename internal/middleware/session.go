package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/domain"
)

const (
	// SessionName is the cookie holding the authenticated identity.
	SessionName = "periskope-session"

	// SessionContextKey is where Auth stores the *domain.Session.
	SessionContextKey = "session"

	sessionKeyEmail    = "email"
	sessionKeyLabel    = "label"
	sessionKeyIssuedAt = "issued_at"
	sessionKeyPending  = "pending_login"
)

// NewCookieStore returns the cookie store used for sessions and flashes.
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Auth protects routes that require a logged-in user. Page requests are
// redirected to the login page, API and websocket requests get a 401.
func Auth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, ok := SessionFrom(c)
			if !ok {
				path := c.Request().URL.Path
				if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/ws/") {
					return echo.NewHTTPError(http.StatusUnauthorized, "login required")
				}
				if c.Request().Header.Get("HX-Request") == "true" {
					c.Response().Header().Set("HX-Redirect", "/auth/login")
					return c.NoContent(http.StatusUnauthorized)
				}
				return c.Redirect(http.StatusSeeOther, "/auth/login")
			}

			c.Set(SessionContextKey, s)
			return next(c)
		}
	}
}

// CurrentSession returns the session stored by Auth.
func CurrentSession(c echo.Context) *domain.Session {
	s, _ := c.Get(SessionContextKey).(*domain.Session)
	return s
}

// SessionFrom reads the identity from the session cookie.
func SessionFrom(c echo.Context) (*domain.Session, bool) {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return nil, false
	}
	email, _ := sess.Values[sessionKeyEmail].(string)
	if email == "" {
		return nil, false
	}
	label, _ := sess.Values[sessionKeyLabel].(string)
	issued, _ := sess.Values[sessionKeyIssuedAt].(int64)
	return &domain.Session{
		Email:    email,
		Label:    label,
		IssuedAt: time.Unix(issued, 0).UTC(),
	}, true
}

// Login stores s in the session cookie and forgets any pending login.
func Login(c echo.Context, s *domain.Session) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	sess.Values[sessionKeyEmail] = s.Email
	sess.Values[sessionKeyLabel] = s.Label
	sess.Values[sessionKeyIssuedAt] = s.IssuedAt.Unix()
	delete(sess.Values, sessionKeyPending)
	return sess.Save(c.Request(), c.Response())
}

// Logout expires the session cookie.
func Logout(c echo.Context) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	sess.Values = make(map[any]any)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// SetPendingLogin remembers the login request this browser is waiting on.
func SetPendingLogin(c echo.Context, requestID string) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	sess.Values[sessionKeyPending] = requestID
	return sess.Save(c.Request(), c.Response())
}

// PendingLogin returns the login request set by SetPendingLogin.
func PendingLogin(c echo.Context) string {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return ""
	}
	id, _ := sess.Values[sessionKeyPending].(string)
	return id
}
