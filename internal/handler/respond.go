package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/service"
)

// requestTimeout bounds every database-backed request.
const requestTimeout = 5 * time.Second

var statusByCode = map[service.Code]int{
	service.CodeNotAuthenticated:  http.StatusUnauthorized,
	service.CodeForbidden:         http.StatusForbidden,
	service.CodeNotFound:          http.StatusNotFound,
	service.CodeInvalidValue:      http.StatusBadRequest,
	service.CodePendingBidExists:  http.StatusConflict,
	service.CodeDuplicateValue:    http.StatusConflict,
	service.CodeAlreadyPending:    http.StatusConflict,
	service.CodeAlreadyApproved:   http.StatusConflict,
	service.CodeAlreadyCanceled:   http.StatusConflict,
	service.CodeInvalidTransition: http.StatusConflict,
	service.CodeLotNotInProgress:  http.StatusConflict,
	service.CodeTieBreak:          http.StatusConflict,
	service.CodeValueTooLow:       http.StatusUnprocessableEntity,
	service.CodeLimitExceeded:     http.StatusUnprocessableEntity,
	service.CodeNotEligible:       http.StatusUnprocessableEntity,
	service.CodeAuctionInactive:   http.StatusUnprocessableEntity,
	service.CodeNoActiveLot:       http.StatusUnprocessableEntity,
	service.CodeCooldownActive:    http.StatusTooManyRequests,
}

// fail writes err as the JSON error body. Domain errors keep their code and
// message; anything else is logged and hidden behind a generic 500.
func fail(c echo.Context, log *slog.Logger, err error) error {
	de, ok := service.AsError(err)
	if !ok {
		log.Error("request failed", "request_id", middleware.RequestID(c), "route", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "something went wrong, please try again"})
	}
	status, ok := statusByCode[de.Code]
	if !ok {
		status = http.StatusBadRequest
	}
	body := echo.Map{"error": de.Message, "code": de.Code}
	if de.NextValidValue != nil {
		body["next_valid_value"] = de.NextValidValue
	}
	if de.RetryAt != nil {
		body["retry_at"] = de.RetryAt
		secs := int(time.Until(*de.RetryAt).Seconds()) + 1
		if secs > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": service.CodeInvalidValue})
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// queryID reads an optional numeric query parameter; absent means 0.
func queryID(c echo.Context, name string) (uint64, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

// validMoney reports whether d has at most two decimal places.
func validMoney(d decimal.Decimal) bool { return d.Equal(d.Round(2)) }
