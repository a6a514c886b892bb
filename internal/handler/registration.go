package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/service"
)

// RegistrationHandler exposes the eligibility workflow.
type RegistrationHandler struct {
	Eligibility *service.EligibilityService
	Log         *slog.Logger
}

type notesReq struct {
	Notes *string `json:"notes"`
}

func trimmedNotes(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// Get handles GET /v1/auctions/:id/registration.
func (h *RegistrationHandler) Get(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reg, err := h.Eligibility.Get(ctx, middleware.UserID(c), auctionID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// Request handles POST /v1/auctions/:id/registration. When a registration is
// already pending or approved it is returned alongside the error code.
func (h *RegistrationHandler) Request(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req notesReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reg, err := h.Eligibility.Request(ctx, middleware.UserID(c), auctionID, trimmedNotes(req.Notes))
	if de, ok := service.AsError(err); ok && reg.ID != 0 &&
		(de.Code == service.CodeAlreadyPending || de.Code == service.CodeAlreadyApproved) {
		return c.JSON(http.StatusConflict, echo.Map{"error": de.Message, "code": de.Code, "registration": reg})
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

// Cancel handles DELETE /v1/auctions/:id/registration.
func (h *RegistrationHandler) Cancel(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reg, err := h.Eligibility.Cancel(ctx, middleware.UserID(c), auctionID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// ListMine handles GET /v1/me/registrations.
func (h *RegistrationHandler) ListMine(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Eligibility.ListForUser(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// List handles GET /v1/admin/auctions/:id/registrations?status=.
func (h *RegistrationHandler) List(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	status := strings.TrimSpace(c.QueryParam("status"))
	switch status {
	case "", model.RegistrationPending, model.RegistrationApproved,
		model.RegistrationRejected, model.RegistrationCanceled:
	default:
		return badRequest(c, "unknown registration status")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Eligibility.ListByAuction(ctx, auctionID, status)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Approve handles POST /v1/admin/registrations/:id/approve.
func (h *RegistrationHandler) Approve(c echo.Context) error { return h.decide(c, true) }

// Reject handles POST /v1/admin/registrations/:id/reject.
func (h *RegistrationHandler) Reject(c echo.Context) error { return h.decide(c, false) }

func (h *RegistrationHandler) decide(c echo.Context, approve bool) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req notesReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reg, err := h.Eligibility.Decide(ctx, middleware.UserID(c), id, approve, trimmedNotes(req.Notes))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// Reopen handles POST /v1/admin/auctions/:id/registrations/:user_id/reopen.
// It moves a rejected or canceled registration back to pending.
func (h *RegistrationHandler) Reopen(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	userID, err := parseID(c, "user_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reg, err := h.Eligibility.Reopen(ctx, middleware.UserID(c), userID, auctionID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, reg)
}
