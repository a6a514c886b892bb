package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func failWith(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	assert.NoError(t, fail(c, discard, err))
	var body map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestFailMapsDomainCodes(t *testing.T) {
	cases := []struct {
		code   service.Code
		status int
	}{
		{service.CodeNotFound, http.StatusNotFound},
		{service.CodeForbidden, http.StatusForbidden},
		{service.CodePendingBidExists, http.StatusConflict},
		{service.CodeTieBreak, http.StatusConflict},
		{service.CodeValueTooLow, http.StatusUnprocessableEntity},
		{service.CodeLimitExceeded, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec, body := failWith(t, &service.Error{Code: tc.code, Message: "nope"})
			check.Equal(t, tc.status, rec.Code)
			check.Equal(t, any(string(tc.code)), body["code"])
			check.Equal(t, "nope", body["error"])
		})
	}
}

func TestFailCarriesHints(t *testing.T) {
	next := decimal.RequireFromString("1200")
	rec, body := failWith(t, &service.Error{Code: service.CodeDuplicateValue, Message: "taken", NextValidValue: &next})
	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, "1200", body["next_valid_value"])

	retry := time.Now().Add(90 * time.Second)
	rec, body = failWith(t, &service.Error{Code: service.CodeCooldownActive, Message: "wait", RetryAt: &retry})
	check.Equal(t, http.StatusTooManyRequests, rec.Code)
	check.True(t, rec.Header().Get("Retry-After") != "")
	check.True(t, body["retry_at"] != nil)
}

func TestFailHidesInternalErrors(t *testing.T) {
	rec, body := failWith(t, errors.New("connection reset by peer"))
	check.Equal(t, http.StatusInternalServerError, rec.Code)
	check.Equal(t, "something went wrong, please try again", body["error"])
	_, hasCode := body["code"]
	check.False(t, hasCode)
}

func TestValidMoney(t *testing.T) {
	check.True(t, validMoney(decimal.RequireFromString("10.25")))
	check.True(t, validMoney(decimal.RequireFromString("10")))
	check.False(t, validMoney(decimal.RequireFromString("10.255")))
}
