package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenAuth rejects requests that do not carry token as a bearer
// credential. Paths listed in open skip the check.
func TokenAuth(token string, open ...string) echo.MiddlewareFunc {
	want := []byte(token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, p := range open {
				if c.Request().URL.Path == p {
					return next(c)
				}
			}
			got, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="nudged"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid api token")
			}
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
