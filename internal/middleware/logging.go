package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
)

// RequestLogger writes one access-log entry per request through log.
// It expects echo's RequestID middleware to run first.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.LogHTTPRequest(c.Request().Context(), v.Method, v.URI, v.RequestID, v.Status, v.Latency.Round(time.Microsecond), v.Error)
			return nil
		},
	})
}
