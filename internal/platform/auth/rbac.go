package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AdminRole passes every role check.
const AdminRole = "admin"

// RequireRole lets a request through when the caller holds any of roles,
// compared case-insensitively. A request without an identity is rejected
// with 401, one with the wrong roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles)+1)
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}
	allowed[AdminRole] = true
	msg := "lab access requires role " + strings.Join(roles, " or ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := IdentityFromContext(c.Request().Context()); !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
			}
			for _, has := range RolesFromContext(c.Request().Context()) {
				if allowed[strings.ToLower(has)] {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, msg)
		}
	}
}
