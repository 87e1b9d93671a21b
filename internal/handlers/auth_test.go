package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/handlers"
	"github.com/nfrund/periskope/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "a-very-secret-key-for-testing-!"

// fakeSessions is a scripted domain.SessionProvider.
type fakeSessions struct {
	mu         sync.Mutex
	requests   map[string]*domain.LoginRequest
	requestErr error
	validToken string
	waitErr    error
	lastEmail  string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		requests:   make(map[string]*domain.LoginRequest),
		validToken: "good-token",
	}
}

func (f *fakeSessions) RequestMagicLink(_ context.Context, email string) (*domain.LoginRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.lastEmail = email
	req := &domain.LoginRequest{
		ID:        "req-1",
		Email:     email,
		Status:    domain.LoginPending,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeSessions) ConfirmMagicLink(_ context.Context, token string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != f.validToken {
		return nil, domain.ErrInvalidToken
	}
	for _, req := range f.requests {
		req.Status = domain.LoginConfirmed
	}
	return &domain.Session{Email: "ada@example.com", Label: "ada", IssuedAt: time.Now()}, nil
}

func (f *fakeSessions) LoginStatus(_ context.Context, id string) (*domain.LoginRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeSessions) WaitForConfirmation(ctx context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	req, ok := f.requests[id]
	waitErr := f.waitErr
	f.mu.Unlock()
	switch {
	case !ok:
		return nil, domain.ErrNotFound
	case waitErr != nil:
		return nil, waitErr
	case req.Status == domain.LoginConfirmed:
		return &domain.Session{Email: req.Email, Label: "ada", IssuedAt: time.Now()}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSessions) failWaits(err error) {
	f.mu.Lock()
	f.waitErr = err
	f.mu.Unlock()
}

func (f *fakeSessions) requestedFor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastEmail
}

func (f *fakeSessions) confirmAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		req.Status = domain.LoginConfirmed
	}
}

// browser is an HTTP client that keeps cookies and does not follow redirects.
type browser struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:   t,
		srv: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string, headers ...string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.srv.URL+path, nil)
	require.NoError(b.t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return b.do(req)
}

func newAuthServer(t *testing.T, sessions domain.SessionProvider) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.Validator = handlers.NewValidator()
	e.Use(session.Middleware(middleware.NewCookieStore(testSessionSecret, false)))

	h := handlers.NewAuthHandler(sessions).WithStatusWait(50 * time.Millisecond)
	e.GET("/", handlers.NewHomeHandler().HomeGet)
	e.GET("/auth/login", h.LoginGet)
	e.POST("/auth/login", h.LoginPost)
	e.GET("/auth/pending", h.PendingGet)
	e.GET("/auth/verify", h.Verify)
	e.GET("/auth/status", h.Status)
	e.POST("/auth/logout", h.Logout)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginGet(t *testing.T) {
	b := newBrowser(t, newAuthServer(t, newFakeSessions()))

	resp, body := b.get("/auth/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, body, "Log in to Periskope")
	assert.Contains(t, body, `action="/auth/login"`)
}

func TestLoginPost_InvalidEmail(t *testing.T) {
	sessions := newFakeSessions()
	b := newBrowser(t, newAuthServer(t, sessions))

	resp, _ := b.post("/auth/login", url.Values{"email": {"not-an-address"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(echo.HeaderLocation))
	assert.Empty(t, sessions.requestedFor())

	_, body := b.get("/auth/login")
	assert.Contains(t, body, "Please enter a valid email address.")
	assert.Contains(t, body, `value="not-an-address"`)

	// Flashes are shown once.
	_, body = b.get("/auth/login")
	assert.NotContains(t, body, "Please enter a valid email address.")
}

func TestLoginPost_SendFailure(t *testing.T) {
	sessions := newFakeSessions()
	sessions.requestErr = domain.ErrAuthRequestFailed
	b := newBrowser(t, newAuthServer(t, sessions))

	resp, _ := b.post("/auth/login", url.Values{"email": {"ada@example.com"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body := b.get("/auth/login")
	assert.Contains(t, body, "We could not send a login link.")
}

func TestLoginFlow_SameBrowser(t *testing.T) {
	sessions := newFakeSessions()
	b := newBrowser(t, newAuthServer(t, sessions))

	resp, _ := b.post("/auth/login", url.Values{"email": {"ada@example.com"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/pending", resp.Header.Get(echo.HeaderLocation))
	assert.Equal(t, "ada@example.com", sessions.requestedFor())

	resp, body := b.get("/auth/pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Check your email")
	assert.Contains(t, body, "ada@example.com")
	assert.Contains(t, body, `hx-get="/auth/status"`)

	// Nothing confirmed yet: the poll answers "keep waiting".
	resp, _ = b.get("/auth/status", "HX-Request", "true")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = b.get("/auth/verify?token=good-token")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/chats", resp.Header.Get(echo.HeaderLocation))

	resp, _ = b.get("/")
	assert.Equal(t, "/chats", resp.Header.Get(echo.HeaderLocation))

	resp, _ = b.get("/auth/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "logged in users skip the login page")
}

func TestLoginFlow_ConfirmedElsewhere(t *testing.T) {
	sessions := newFakeSessions()
	b := newBrowser(t, newAuthServer(t, sessions))

	b.post("/auth/login", url.Values{"email": {"ada@example.com"}})
	sessions.confirmAll()

	resp, _ := b.get("/auth/status", "HX-Request", "true")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/chats", resp.Header.Get("HX-Redirect"))

	resp, _ = b.get("/")
	assert.Equal(t, "/chats", resp.Header.Get(echo.HeaderLocation))
}

func TestStatus(t *testing.T) {
	t.Run("Without pending login", func(t *testing.T) {
		b := newBrowser(t, newAuthServer(t, newFakeSessions()))
		resp, _ := b.get("/auth/status", "HX-Request", "true")
		assert.Equal(t, "/auth/login", resp.Header.Get("HX-Redirect"))
	})

	t.Run("Expired", func(t *testing.T) {
		sessions := newFakeSessions()
		b := newBrowser(t, newAuthServer(t, sessions))
		b.post("/auth/login", url.Values{"email": {"ada@example.com"}})
		sessions.failWaits(domain.ErrInvalidToken)

		resp, body := b.get("/auth/status", "HX-Request", "true")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "This login link has expired.")

		resp, _ = b.get("/")
		assert.Equal(t, "/auth/login", resp.Header.Get(echo.HeaderLocation))
	})
}

func TestPendingGet_WithoutRequest(t *testing.T) {
	b := newBrowser(t, newAuthServer(t, newFakeSessions()))

	resp, _ := b.get("/auth/pending")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(echo.HeaderLocation))
}

func TestVerify_BadTokens(t *testing.T) {
	for name, path := range map[string]string{
		"Missing": "/auth/verify",
		"Invalid": "/auth/verify?token=forged",
	} {
		t.Run(name, func(t *testing.T) {
			b := newBrowser(t, newAuthServer(t, newFakeSessions()))

			resp, _ := b.get(path)
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/auth/login", resp.Header.Get(echo.HeaderLocation))

			_, body := b.get("/auth/login")
			assert.Contains(t, body, "invalid")
		})
	}
}

func TestLogout(t *testing.T) {
	b := newBrowser(t, newAuthServer(t, newFakeSessions()))
	b.get("/auth/verify?token=good-token")

	resp, _ := b.post("/auth/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(echo.HeaderLocation))

	resp, body := b.get("/auth/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "You have been logged out.")
}
