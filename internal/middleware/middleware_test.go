package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "a-very-secret-key-for-testing-!"

func newAuthTestServer() *echo.Echo {
	e := echo.New()
	e.Use(session.Middleware(NewCookieStore(testSessionSecret, false)))

	e.GET("/login-as", func(c echo.Context) error {
		err := Login(c, &domain.Session{Email: "alice@example.com", Label: "Alice", IssuedAt: time.Unix(1700000000, 0)})
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/logout", func(c echo.Context) error {
		if err := Logout(c); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	whoami := func(c echo.Context) error {
		s := CurrentSession(c)
		return c.String(http.StatusOK, s.Label+" <"+s.Email+">")
	}
	e.GET("/chats", whoami, Auth())
	e.GET("/api/conversations", whoami, Auth())
	return e
}

func sessionCookie(t *testing.T, e *echo.Echo, path string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", SessionName)
	return nil
}

func TestAuth(t *testing.T) {
	e := newAuthTestServer()

	t.Run("anonymous page request is redirected to login", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats", nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/auth/login", rec.Header().Get("Location"))
	})

	t.Run("anonymous htmx request gets an HX-Redirect", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/chats", nil)
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "/auth/login", rec.Header().Get("HX-Redirect"))
	})

	t.Run("anonymous api request is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("logged in user reaches the handler", func(t *testing.T) {
		cookie := sessionCookie(t, e, "/login-as")

		req := httptest.NewRequest(http.MethodGet, "/chats", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Alice <alice@example.com>", rec.Body.String())
	})

	t.Run("logout expires the cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

		var found bool
		for _, c := range rec.Result().Cookies() {
			if c.Name == SessionName {
				found = true
				assert.True(t, c.MaxAge < 0)
			}
		}
		assert.True(t, found)
	})
}

func TestPendingLogin(t *testing.T) {
	e := echo.New()
	e.Use(session.Middleware(NewCookieStore(testSessionSecret, false)))
	e.GET("/set", func(c echo.Context) error {
		if err := SetPendingLogin(c, "req-1"); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/get", func(c echo.Context) error {
		return c.String(http.StatusOK, PendingLogin(c))
	})

	cookie := sessionCookie(t, e, "/set")
	req := httptest.NewRequest(http.MethodGet, "/get", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Body.String())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := echo.New()
	e.Use(echomw.RequestID())
	e.Use(Logger)
	e.Use(AccessLog())
	e.GET("/", func(c echo.Context) error {
		FromContext(c.Request().Context()).Info("inside handler")
		return c.String(http.StatusOK, "OK")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	reqID := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, reqID)
	assert.Contains(t, buf.String(), `"msg":"inside handler"`)
	assert.Contains(t, buf.String(), `"request_id":"`+reqID+`"`)
	assert.Contains(t, buf.String(), `"msg":"Request handled"`)
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestMetrics_PassesThrough(t *testing.T) {
	e := echo.New()
	e.Use(Metrics)
	e.GET("/items/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/7", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
