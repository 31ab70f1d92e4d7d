package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"horse.fit/mediatrends/internal/auth"
)

// requireToken checks the bearer token against ADMIN_TOKEN_HASH. With no hash
// configured every request is rejected.
func (s *Server) requireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorizedResponse(c)
			}
			if s.opts.AdminTokenHash == "" || !auth.VerifyToken(token, s.opts.AdminTokenHash) {
				s.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected admin token")
				return unauthorizedResponse(c)
			}
			return next(c)
		}
	}
}

func unauthorizedResponse(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="mediatrends"`)
	return fail(c, http.StatusUnauthorized, "Authentication required", nil)
}
