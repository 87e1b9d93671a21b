package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/middleware"
	cmp "maragu.dev/gomponents"
)

// HomeHandler handles requests for the home page.
type HomeHandler struct{}

// NewHomeHandler creates a new HomeHandler.
func NewHomeHandler() *HomeHandler {
	return &HomeHandler{}
}

// HomeGet sends logged in users to their chats and everyone else to login.
func (h *HomeHandler) HomeGet(c echo.Context) error {
	if _, ok := middleware.SessionFrom(c); ok {
		return c.Redirect(http.StatusSeeOther, "/chats")
	}
	return c.Redirect(http.StatusSeeOther, "/auth/login")
}

// render writes a gomponents node as an HTML response.
func render(c echo.Context, status int, node cmp.Node) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return node.Render(c.Response().Writer)
}
