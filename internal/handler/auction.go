package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/service"
	"github.com/iliyamo/auction-bidding/internal/storage"
)

// uploadTimeout bounds an image upload to object storage.
const uploadTimeout = 30 * time.Second

// AuctionHandler serves the auction catalogue to everyone and its admin
// editing endpoints.
type AuctionHandler struct {
	Catalog *service.CatalogService
	Purger  *middleware.CachePurger
	// Images is nil when object storage is not configured.
	Images        storage.ObjectStore
	MaxUploadSize int64
	Log           *slog.Logger
}

type auctionReq struct {
	Name                  string          `json:"name"`
	Type                  string          `json:"type"`
	Status                string          `json:"status"`
	IsLive                bool            `json:"is_live"`
	InitialBidValue       decimal.Decimal `json:"initial_bid_value"`
	BidIncrement          decimal.Decimal `json:"bid_increment"`
	StartDate             *time.Time      `json:"start_date"`
	EndDate               *time.Time      `json:"end_date"`
	AllowPreBidding       bool            `json:"allow_pre_bidding"`
	RegistrationWaitValue int             `json:"registration_wait_value"`
	RegistrationWaitUnit  string          `json:"registration_wait_unit"`
}

func (r auctionReq) input() service.AuctionInput {
	status := strings.TrimSpace(r.Status)
	if status == "" {
		status = model.AuctionActive
	}
	return service.AuctionInput{
		Name:                  r.Name,
		Type:                  strings.TrimSpace(r.Type),
		Status:                status,
		IsLive:                r.IsLive,
		InitialBidValue:       r.InitialBidValue,
		BidIncrement:          r.BidIncrement,
		StartDate:             r.StartDate,
		EndDate:               r.EndDate,
		AllowPreBidding:       r.AllowPreBidding,
		RegistrationWaitValue: r.RegistrationWaitValue,
		RegistrationWaitUnit:  strings.TrimSpace(r.RegistrationWaitUnit),
	}
}

type lotReq struct {
	Name         string           `json:"name"`
	Description  *string          `json:"description"`
	OrderIndex   int              `json:"order_index"`
	InitialValue decimal.Decimal  `json:"initial_value"`
	Increment    *decimal.Decimal `json:"increment"`
}

func (r lotReq) input() service.LotInput {
	in := service.LotInput{
		Name:         r.Name,
		Description:  r.Description,
		OrderIndex:   r.OrderIndex,
		InitialValue: r.InitialValue,
	}
	if r.Increment != nil {
		in.Increment = decimal.NewNullDecimal(*r.Increment)
	}
	return in
}

// List handles GET /v1/auctions?status=active|inactive.
func (h *AuctionHandler) List(c echo.Context) error {
	status := strings.TrimSpace(c.QueryParam("status"))
	if status != "" && status != model.AuctionActive && status != model.AuctionInactive {
		return badRequest(c, "status must be active or inactive")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Catalog.ListAuctions(ctx, status)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/auctions/:id.
func (h *AuctionHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Catalog.GetAuction(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListLots handles GET /v1/auctions/:id/lots.
func (h *AuctionHandler) ListLots(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	lots, err := h.Catalog.ListLots(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": lots})
}

// GetLot handles GET /v1/lots/:id.
func (h *AuctionHandler) GetLot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	l, err := h.Catalog.GetLot(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// Create handles POST /v1/admin/auctions.
func (h *AuctionHandler) Create(c echo.Context) error {
	var req auctionReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Catalog.CreateAuction(ctx, middleware.UserID(c), req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusCreated, a)
}

// Update handles PUT /v1/admin/auctions/:id.
func (h *AuctionHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req auctionReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Catalog.UpdateAuction(ctx, middleware.UserID(c), id, req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusOK, a)
}

// CreateLot handles POST /v1/admin/auctions/:id/lots.
func (h *AuctionHandler) CreateLot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req lotReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	l, err := h.Catalog.CreateLot(ctx, middleware.UserID(c), id, req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusCreated, l)
}

// UpdateLot handles PUT /v1/admin/lots/:id.
func (h *AuctionHandler) UpdateLot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req lotReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	l, err := h.Catalog.UpdateLot(ctx, middleware.UserID(c), id, req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusOK, l)
}

// UploadLotImage handles PUT /v1/admin/lots/:id/image with a multipart
// "image" file. The previous image object is deleted after the lot points
// at the new one.
func (h *AuctionHandler) UploadLotImage(c echo.Context) error {
	if h.Images == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "image storage is not configured"})
	}
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "image file is required")
	}
	if h.MaxUploadSize > 0 && fh.Size > h.MaxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "image is too large"})
	}
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return badRequest(c, "file must be an image")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), uploadTimeout)
	defer cancel()

	actor := middleware.UserID(c)
	if err := h.Catalog.Authorize(ctx, actor, "upload_lot_image"); err != nil {
		return fail(c, h.Log, err)
	}
	lot, err := h.Catalog.GetLot(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}

	src, err := fh.Open()
	if err != nil {
		return badRequest(c, "cannot read image")
	}
	defer src.Close()

	key := storage.LotImageKey(lot.AuctionID, lot.ID, fh.Filename, uuid.NewString())
	url, err := h.Images.Upload(ctx, key, src, contentType)
	if err != nil {
		return fail(c, h.Log, err)
	}
	lot, previous, err := h.Catalog.SetLotImage(ctx, actor, id, &url)
	if err != nil {
		h.deleteObject(ctx, url)
		return fail(c, h.Log, err)
	}
	if previous != nil {
		h.deleteObject(ctx, *previous)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusOK, lot)
}

// DeleteLotImage handles DELETE /v1/admin/lots/:id/image.
func (h *AuctionHandler) DeleteLotImage(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), uploadTimeout)
	defer cancel()

	lot, previous, err := h.Catalog.SetLotImage(ctx, middleware.UserID(c), id, nil)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if previous != nil {
		h.deleteObject(ctx, *previous)
	}
	h.Purger.Purge(ctx)
	return c.JSON(http.StatusOK, lot)
}

// deleteObject removes an uploaded image. URLs outside the store are left
// alone and failures are only logged: the row no longer points at them.
func (h *AuctionHandler) deleteObject(ctx context.Context, url string) {
	if h.Images == nil {
		return
	}
	key, ok := h.Images.KeyFromURL(url)
	if !ok {
		return
	}
	if err := h.Images.Delete(ctx, key); err != nil {
		h.Log.Warn("lot image cleanup failed", "key", key, "err", err)
	}
}
