package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/service"
)

// LimitHandler exposes the bid limit guard.
type LimitHandler struct {
	Limits *service.BidLimitService
	Log    *slog.Logger
}

// Mine handles GET /v1/me/bid-limit.
func (h *LimitHandler) Mine(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	view, err := h.Limits.Get(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// MyRequests handles GET /v1/me/bid-limit/requests.
func (h *LimitHandler) MyRequests(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Limits.ListRequests(ctx, middleware.UserID(c), "")
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// RequestIncrease handles POST /v1/me/bid-limit/requests.
func (h *LimitHandler) RequestIncrease(c echo.Context) error {
	var req struct {
		RequestedLimit decimal.Decimal `json:"requested_limit"`
		Reason         *string         `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if !req.RequestedLimit.IsPositive() || !validMoney(req.RequestedLimit) {
		return badRequest(c, "requested_limit must be a positive amount with at most two decimals")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	r, err := h.Limits.RequestIncrease(ctx, middleware.UserID(c), req.RequestedLimit, trimmedNotes(req.Reason))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// Get handles GET /v1/admin/users/:id/limit.
func (h *LimitHandler) Get(c echo.Context) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	view, err := h.Limits.Get(ctx, userID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Set handles PUT /v1/admin/users/:id/limit.
func (h *LimitHandler) Set(c echo.Context) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req struct {
		MaxLimit    decimal.Decimal `json:"max_limit"`
		IsUnlimited bool            `json:"is_unlimited"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if !validMoney(req.MaxLimit) {
		return badRequest(c, "max_limit must have at most two decimals")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	lim, err := h.Limits.SetLimit(ctx, middleware.UserID(c), userID, req.MaxLimit, req.IsUnlimited)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, lim)
}

// ListRequests handles GET /v1/admin/limit-requests?status=&user_id=.
func (h *LimitHandler) ListRequests(c echo.Context) error {
	status := strings.TrimSpace(c.QueryParam("status"))
	switch status {
	case "", model.LimitRequestPending, model.LimitRequestApproved, model.LimitRequestRejected:
	default:
		return badRequest(c, "unknown request status")
	}
	userID, err := queryID(c, "user_id")
	if err != nil {
		return badRequest(c, "invalid user_id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Limits.ListRequests(ctx, userID, status)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ApproveRequest handles POST /v1/admin/limit-requests/:id/approve.
func (h *LimitHandler) ApproveRequest(c echo.Context) error { return h.decide(c, true) }

// RejectRequest handles POST /v1/admin/limit-requests/:id/reject.
func (h *LimitHandler) RejectRequest(c echo.Context) error { return h.decide(c, false) }

func (h *LimitHandler) decide(c echo.Context, approve bool) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	r, err := h.Limits.DecideIncrease(ctx, middleware.UserID(c), id, approve)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// FailedAttempts handles GET /v1/admin/failed-bids?user_id=.
func (h *LimitHandler) FailedAttempts(c echo.Context) error {
	userID, err := queryID(c, "user_id")
	if err != nil {
		return badRequest(c, "invalid user_id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Limits.ListFailedAttempts(ctx, userID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
