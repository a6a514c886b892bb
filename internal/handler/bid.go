package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/service"
)

// BidHandler exposes the bid ledger, lot progression and the derived
// bidding state.
type BidHandler struct {
	Ledger      *service.LedgerService
	Progression *service.ProgressionService
	State       *service.StateService
	Log         *slog.Logger
}

type placeBidReq struct {
	LotID uint64          `json:"lot_id"`
	Value decimal.Decimal `json:"value"`
}

// Submit handles POST /v1/auctions/:id/bids. lot_id is required in
// pre-bidding and optional (the current lot) in live mode.
func (h *BidHandler) Submit(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req placeBidReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if !req.Value.IsPositive() || !validMoney(req.Value) {
		return badRequest(c, "value must be a positive amount with at most two decimals")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bid, err := h.Ledger.Submit(ctx, service.BidRequest{
		UserID:    middleware.UserID(c),
		AuctionID: auctionID,
		LotID:     req.LotID,
		Value:     req.Value,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, bid)
}

// ListForAuction handles GET /v1/auctions/:id/bids. Bidders see who placed
// their own bids only; other rows carry user_id 0.
func (h *BidHandler) ListForAuction(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bids, err := h.Ledger.ListForAuction(ctx, auctionID, 0)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !middleware.IsPrivileged(c) {
		bids = redactBids(bids, middleware.UserID(c))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": bids})
}

// MyBids handles GET /v1/my-bids.
func (h *BidHandler) MyBids(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bids, err := h.Ledger.ListForUser(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": bids})
}

// GetState handles GET /v1/auctions/:id/state?lot_id=.
func (h *BidHandler) GetState(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	lotID, err := queryID(c, "lot_id")
	if err != nil {
		return badRequest(c, "invalid lot_id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	view, err := h.State.Get(ctx, middleware.UserID(c), auctionID, lotID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Leading handles GET /v1/lots/:id/leading.
func (h *BidHandler) Leading(c echo.Context) error {
	lotID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bid, err := h.Ledger.LeadingBid(ctx, lotID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !middleware.IsPrivileged(c) {
		bid = redactBids([]model.Bid{bid}, middleware.UserID(c))[0]
	}
	return c.JSON(http.StatusOK, bid)
}

// Approve handles POST /v1/admin/bids/:id/approve.
func (h *BidHandler) Approve(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bid, err := h.Ledger.Approve(ctx, middleware.UserID(c), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, bid)
}

// Reject handles POST /v1/admin/bids/:id/reject.
func (h *BidHandler) Reject(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bid, err := h.Ledger.Reject(ctx, middleware.UserID(c), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, bid)
}

// ListByLot handles GET /v1/admin/lots/:id/bids.
func (h *BidHandler) ListByLot(c echo.Context) error {
	lotID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	bids, err := h.Ledger.ListForLot(ctx, lotID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": bids})
}

// DeclareWinner handles POST /v1/admin/bids/:id/winner?auto_start_next=true.
func (h *BidHandler) DeclareWinner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	autoStart := false
	if v := c.QueryParam("auto_start_next"); v != "" {
		if autoStart, err = strconv.ParseBool(v); err != nil {
			return badRequest(c, "auto_start_next must be true or false")
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Progression.SetWinnerAndFinalizeLot(ctx, middleware.UserID(c), id, autoStart)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// StartLot handles POST /v1/admin/auctions/:id/lots/:lot_id/start.
func (h *BidHandler) StartLot(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	lotID, err := parseID(c, "lot_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	lot, err := h.Progression.StartNextLot(ctx, middleware.UserID(c), auctionID, lotID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, lot)
}

// redactBids zeroes the bidder on every bid not placed by viewer.
func redactBids(bids []model.Bid, viewer uint64) []model.Bid {
	out := make([]model.Bid, len(bids))
	for i, b := range bids {
		if b.UserID != viewer {
			b.UserID = 0
		}
		out[i] = b
	}
	return out
}
