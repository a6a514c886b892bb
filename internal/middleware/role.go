package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/model"
)

// RequireRole aborts with 403 unless the token's role claim is one of
// roles. JWTAuth must run first.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "code": "FORBIDDEN"})
			}
			return next(c)
		}
	}
}

// RequireBidder admits every signed-in role.
func RequireBidder() echo.MiddlewareFunc {
	return RequireRole(model.RoleUser, model.RoleAdmin, model.RoleDeveloper)
}

// RequirePrivileged admits administrators and developers.
func RequirePrivileged() echo.MiddlewareFunc {
	return RequireRole(model.RoleAdmin, model.RoleDeveloper)
}
