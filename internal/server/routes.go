package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/middleware"
	"github.com/nfrund/periskope/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	auth := middleware.Auth()
	loginLimiter := middleware.RateLimiter(middleware.DefaultLoginRate)

	s.E.GET("/", s.homeHandler.HomeGet)
	s.E.StaticFS("/static", echo.MustSubFS(web.FS, "static"))

	a := s.E.Group("/auth")
	a.GET("/login", s.authHandler.LoginGet)
	a.POST("/login", s.authHandler.LoginPost, loginLimiter)
	a.GET("/pending", s.authHandler.PendingGet)
	a.GET("/verify", s.authHandler.Verify, loginLimiter)
	a.GET("/status", s.authHandler.Status)
	a.POST("/logout", s.authHandler.Logout)

	s.E.GET("/chats", s.chatHandler.ChatsGet, auth)

	api := s.E.Group("/api", auth)
	api.GET("/conversations", s.chatHandler.Conversations)
	api.GET("/conversations/:id/messages", s.chatHandler.Messages)

	s.E.GET("/ws/chat", s.wsHandler.Serve, auth)

	s.E.GET("/health", func(c echo.Context) error {
		if !s.healthy() {
			return c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
		}
		return c.String(http.StatusOK, "OK")
	})
	s.E.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
