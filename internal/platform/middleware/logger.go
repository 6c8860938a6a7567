package middleware

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per request. Client errors log at warn and server
// errors at error, with the status taken from an *echo.HTTPError when the
// handler returned one instead of writing a response.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := statusOf(c, err)
			evt := eventFor(logger, status, err)
			req := c.Request()
			evt.Str("request_id", requestIDOf(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Int64("bytes_in", req.ContentLength).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return err
		}
	}
}

func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if !c.Response().Committed && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

func eventFor(logger zerolog.Logger, status int, err error) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error().Err(err)
	case status >= 400 || err != nil:
		return logger.Warn().Err(err)
	}
	return logger.Info()
}
