package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/model"
)

const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxRequestID = "request_id"
)

// UserID returns the authenticated caller's id, or 0 for guests.
func UserID(c echo.Context) uint64 {
	id, _ := c.Get(ctxUserID).(uint64)
	return id
}

// Role returns the role claim of the access token. It gates routes only;
// services re-check privileged roles against stored data.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// IsPrivileged reports whether the token claims an administrative role.
func IsPrivileged(c echo.Context) bool { return model.IsPrivilegedRole(Role(c)) }

// RequestID returns the id assigned by RequestLogger.
func RequestID(c echo.Context) string {
	id, _ := c.Get(ctxRequestID).(string)
	return id
}

// userKey renders the caller for rate limit keys: the numeric id or "anon".
func userKey(c echo.Context) string {
	if id := UserID(c); id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
