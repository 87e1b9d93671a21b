package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/metrics"
)

// Metrics records request counts and latency per route.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		// Route patterns keep the label set bounded.
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request().Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}
