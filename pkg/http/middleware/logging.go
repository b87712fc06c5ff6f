package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"SignalFuse/pkg/logger"
)

// RequestLogging logs each request at debug level. Failed and slow requests
// are logged by Metrics.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			l.Debug("http request",
				logger.String("method", c.Request().Method),
				logger.String("route", routeLabel(c)),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", time.Since(start)),
				logger.String("remote", c.RealIP()))
			return err
		}
	}
}
