package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/chatws"
	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/handlers"
	"github.com/nfrund/periskope/internal/middleware"
)

// Dependencies holds everything the HTTP server needs. Store and Feed are
// usually the same backend.
type Dependencies struct {
	Config   config.Provider
	Store    domain.MessageStore
	Feed     domain.ChangeFeed
	Sessions domain.SessionProvider

	// Healthy reports backend health for /health. Nil means always healthy.
	Healthy func() bool
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E   *echo.Echo
	Cfg config.Provider

	healthy     func() bool
	homeHandler *handlers.HomeHandler
	authHandler *handlers.AuthHandler
	chatHandler *handlers.ChatHandler
	wsHandler   *chatws.Handler

	mu       sync.Mutex
	shutdown []func(context.Context) error
}

// New creates a new Server instance with its middleware stack. Routes are
// added by RegisterRoutes.
func New(deps Dependencies) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("server: config is required")
	case deps.Store == nil || deps.Feed == nil:
		return nil, errors.New("server: message store and change feed are required")
	case deps.Sessions == nil:
		return nil, errors.New("server: session provider is required")
	}
	cfg := deps.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)
	e.Use(middleware.AccessLog())
	e.Use(middleware.Metrics)

	secure := strings.HasPrefix(cfg.GetAppBaseURL(), "https://")
	e.Use(session.Middleware(middleware.NewCookieStore(cfg.GetSessionSecret(), secure)))

	wsOpts := []chatws.Option{
		chatws.WithRetryer(func() backoff.Retryer {
			return backoff.NewExponentialBackoffRetryer(
				backoff.WithMaxRetries(cfg.GetFeedMaxRetries()),
				backoff.WithBaseDelay(cfg.GetFeedBaseDelay()),
			)
		}),
	}
	if u, err := url.Parse(cfg.GetAppBaseURL()); err == nil && u.Host != "" {
		wsOpts = append(wsOpts, chatws.WithOriginPatterns(u.Host))
	}

	healthy := deps.Healthy
	if healthy == nil {
		healthy = func() bool { return true }
	}

	return &Server{
		E:           e,
		Cfg:         cfg,
		healthy:     healthy,
		homeHandler: handlers.NewHomeHandler(),
		authHandler: handlers.NewAuthHandler(deps.Sessions),
		chatHandler: handlers.NewChatHandler(deps.Store),
		wsHandler:   chatws.NewHandler(deps.Store, deps.Feed, wsOpts...),
	}, nil
}

// OnShutdown registers fn to run after the HTTP server stopped, in reverse
// registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = append(s.shutdown, fn)
}

// setupErrorHandling logs unhandled errors with a stack trace before echo
// writes the response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if !errors.As(err, &he) {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
			he = echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		if strings.HasPrefix(c.Request().URL.Path, "/api/") {
			msg, _ := he.Message.(string)
			if msg == "" {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, handlers.ErrorResponse{Code: errorCode(he.Code), Message: msg})
			return
		}
		e.DefaultHTTPErrorHandler(he, c)
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= 500 {
		return "internal"
	}
	return "bad_request"
}
