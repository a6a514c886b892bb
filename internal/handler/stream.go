package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

// StreamHandler serves change events as Server-Sent Events.
type StreamHandler struct {
	Hub       *realtime.Hub
	Heartbeat time.Duration
	Log       *slog.Logger
}

// Auction handles GET /v1/stream/auctions/:id. The stream carries the
// auction's auction, lot and bid changes plus every change about the caller.
func (h *StreamHandler) Auction(c echo.Context) error {
	auctionID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	return h.serve(c, auctionID)
}

// Me handles GET /v1/stream/me: changes to the caller's registrations,
// bids and limit across all auctions.
func (h *StreamHandler) Me(c echo.Context) error { return h.serve(c, 0) }

func (h *StreamHandler) serve(c echo.Context, auctionID uint64) error {
	ctx := c.Request().Context()
	sub, err := h.Hub.Subscribe(ctx, auctionID, middleware.UserID(c), middleware.IsPrivileged(c))
	if err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	defer h.Hub.Unsubscribe(c.Request().Context(), sub)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if err := realtime.WriteComment(res, "connected "+sub.ID); err != nil {
		return nil
	}
	res.Flush()

	beat := h.Heartbeat
	if beat <= 0 {
		beat = 15 * time.Second
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := realtime.WriteComment(res, "ping"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := realtime.WriteSSE(res, ev); err != nil {
				h.Log.Debug("stream write failed", "sub", sub.ID, "err", err)
				return nil
			}
			res.Flush()
		}
	}
}
