package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
)

// HeaderTOTP carries the one-time code for mutating routes.
const HeaderTOTP = "X-TOTP"

func requestLogging(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			log.Debug().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote", c.RealIP()).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}

func requireTOTP(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			code := c.Request().Header.Get(HeaderTOTP)
			if code == "" || !totp.Validate(code, secret) {
				return reply(c, http.StatusUnauthorized, "invalid or missing "+HeaderTOTP)
			}
			return next(c)
		}
	}
}
