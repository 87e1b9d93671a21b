package view_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectFlow runs set on a first request and read on a follow-up request
// that carries the cookies of the first, like a browser after a redirect.
// Every flash saves the session, so the response may repeat a cookie name;
// only the last one is kept, as a browser would.
func redirectFlow(t *testing.T, set func(echo.Context), read func(echo.Context)) {
	t.Helper()
	e := echo.New()
	e.Use(session.Middleware(sessions.NewCookieStore([]byte("flash-test-secret-0123456789abcd"))))
	e.POST("/auth/login", func(c echo.Context) error {
		set(c)
		return c.Redirect(http.StatusSeeOther, "/auth/login")
	})
	e.GET("/auth/login", func(c echo.Context) error {
		read(c)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	jar := map[string]*http.Cookie{}
	for _, ck := range rec.Result().Cookies() {
		jar[ck.Name] = ck
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	for _, ck := range jar {
		req.AddCookie(ck)
	}
	e.ServeHTTP(httptest.NewRecorder(), req)
}

func TestFlash_SurvivesRedirect(t *testing.T) {
	var got view.FlashData
	redirectFlow(t,
		func(c echo.Context) {
			view.SetFlashError(c, "Please enter a valid email address.")
			view.SetFlashSuccess(c, "You have been logged out.")
		},
		func(c echo.Context) { got = view.GetFlashData(c) },
	)
	assert.Equal(t, []string{"Please enter a valid email address."}, got.Error)
	assert.Equal(t, []string{"You have been logged out."}, got.Success)
}

func TestFlash_SeveralOfOneKind(t *testing.T) {
	var got view.FlashData
	redirectFlow(t,
		func(c echo.Context) {
			view.SetFlashError(c, "first")
			view.SetFlashError(c, "second")
		},
		func(c echo.Context) { got = view.GetFlashData(c) },
	)
	assert.Equal(t, []string{"first", "second"}, got.Error)
	assert.Empty(t, got.Success)
}

func TestFlash_ReadOnce(t *testing.T) {
	var first, second view.FlashData
	redirectFlow(t,
		func(c echo.Context) { view.SetFlashError(c, "This login link is invalid.") },
		func(c echo.Context) {
			first = view.GetFlashData(c)
			second = view.GetFlashData(c)
		},
	)
	assert.Len(t, first.Error, 1)
	assert.Empty(t, second.Error)
	assert.Empty(t, second.Success)
}

func TestFlash_FormEmailIsSeparate(t *testing.T) {
	var email, again string
	var flashes view.FlashData
	redirectFlow(t,
		func(c echo.Context) {
			view.SetFormEmail(c, "not-an-address")
			view.SetFlashError(c, "Please enter a valid email address.")
		},
		func(c echo.Context) {
			email = view.GetFormEmail(c)
			again = view.GetFormEmail(c)
			flashes = view.GetFlashData(c)
		},
	)
	assert.Equal(t, "not-an-address", email)
	assert.Empty(t, again)
	assert.Equal(t, []string{"Please enter a valid email address."}, flashes.Error)
	assert.Empty(t, flashes.Success)
}

func TestFlash_NothingSet(t *testing.T) {
	var got view.FlashData
	redirectFlow(t, func(echo.Context) {}, func(c echo.Context) { got = view.GetFlashData(c) })
	assert.Empty(t, got.Success)
	assert.Empty(t, got.Error)
}
