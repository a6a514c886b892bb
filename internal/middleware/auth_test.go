package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/utils"
)

const testSecret = "test-secret"

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, strconv.FormatUint(UserID(c), 10)+":"+Role(c))
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(testSecret))
	g.GET("/me", whoami, RequireBidder())
	g.GET("/admin/ping", whoami, RequirePrivileged())
	g.GET("/stream/me", whoami, RequireBidder())
	return e
}

func token(t *testing.T, id uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, id, role, 5)
	assert.NoError(t, err)
	return tok.Token
}

func serve(e *echo.Echo, target, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newTestEcho()

	rec := serve(e, "/v1/me", "")
	check.Equal(t, http.StatusUnauthorized, rec.Code)
	check.True(t, strings.Contains(rec.Body.String(), "NOT_AUTHENTICATED"))

	rec = serve(e, "/v1/me", "not-a-jwt")
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := utils.NewAccessToken("another-secret", 3, model.RoleUser, 5)
	assert.NoError(t, err)
	rec = serve(e, "/v1/me", other.Token)
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, "/v1/me", token(t, 3, model.RoleUser))
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "3:user", rec.Body.String())
}

func TestJWTAuthQueryTokenOnlyOnStreams(t *testing.T) {
	e := newTestEcho()
	tok := token(t, 4, model.RoleUser)

	rec := serve(e, "/v1/stream/me?access_token="+tok, "")
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "4:user", rec.Body.String())

	rec = serve(e, "/v1/me?access_token="+tok, "")
	check.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequirePrivileged(t *testing.T) {
	e := newTestEcho()

	rec := serve(e, "/v1/admin/ping", token(t, 5, model.RoleUser))
	check.Equal(t, http.StatusForbidden, rec.Code)
	check.True(t, strings.Contains(rec.Body.String(), "FORBIDDEN"))

	for _, role := range []string{model.RoleAdmin, model.RoleDeveloper} {
		rec = serve(e, "/v1/admin/ping", token(t, 6, role))
		check.Equal(t, http.StatusOK, rec.Code)
	}

	rec = serve(e, "/v1/me", token(t, 7, "guest"))
	check.Equal(t, http.StatusForbidden, rec.Code)
}
