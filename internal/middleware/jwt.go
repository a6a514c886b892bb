package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/utils"
)

// JWTAuth validates the access token and stores the caller's id and role in
// the context under "user_id" (uint64) and "role" (string).
//
// The token is read from "Authorization: Bearer ...". Browser EventSource
// cannot set headers, so stream routes may pass it as ?access_token=.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearer(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "code": "NOT_AUTHENTICATED"})
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "code": "NOT_AUTHENTICATED"})
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

func bearer(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c.Request().Method == http.MethodGet && strings.HasPrefix(c.Path(), "/v1/stream/") {
		return c.QueryParam("access_token")
	}
	return ""
}
