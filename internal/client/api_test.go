package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.POST("/v1/auth/login", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"user":   echo.Map{"id": 7, "email": "bidder@example.com"},
			"access": echo.Map{"token": "tok-7"},
		})
	})
	e.GET("/v1/auctions/1/registration", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "registration not found", "code": "NOT_FOUND"})
	})
	e.POST("/v1/auctions/1/bids", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer tok-7" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
		}
		return c.JSON(http.StatusConflict, echo.Map{
			"error":            "another bid already reached this value",
			"code":             "DUPLICATE_VALUE",
			"next_valid_value": decimal.RequireFromString("1200"),
		})
	})
	e.GET("/v1/auctions/1/lots", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"items": []model.Lot{{ID: 10, AuctionID: 1, Name: "Tractor"}}})
	})
	e.GET("/v1/stream/auctions/1", func(c echo.Context) error {
		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = realtime.WriteComment(w, "connected")
		for _, id := range []string{"e1", "e2"} {
			_ = realtime.WriteSSE(w, realtime.ChangeEvent{ID: id, Table: realtime.TableLots, Type: realtime.OpUpdate, AuctionID: 1})
		}
		w.Flush()
		return nil
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPILoginAndErrors(t *testing.T) {
	srv := fakeServer(t)
	api := NewAPI(srv.URL + "/")
	ctx := context.Background()

	assert.NoError(t, api.Login(ctx, "bidder@example.com", "secret-password"))
	check.Equal(t, "tok-7", api.Token)
	check.Equal(t, uint64(7), api.UserID)

	reg, err := api.Registration(ctx, 1)
	assert.NoError(t, err)
	check.Nil(t, reg)

	_, err = api.PlaceBid(ctx, 1, 0, decimal.RequireFromString("1100"))
	var ae *APIError
	assert.True(t, errors.As(err, &ae))
	check.Equal(t, http.StatusConflict, ae.Status)
	check.Equal(t, "DUPLICATE_VALUE", ae.Code)
	assert.NotNil(t, ae.NextValidValue)
	check.Equal(t, "1200.00", ae.NextValidValue.StringFixed(2))

	lots, err := api.Lots(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(lots))
	check.Equal(t, "Tractor", lots[0].Name)

	_, err = api.Auction(ctx, 2)
	check.True(t, IsNotFound(err))
}

func TestAPISubscribe(t *testing.T) {
	srv := fakeServer(t)
	api := NewAPI(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opened := false
	var ids []string
	err := api.Subscribe(ctx, auctionStreamPath(1), func() { opened = true }, func(ev realtime.ChangeEvent) error {
		ids = append(ids, ev.ID)
		return nil
	})
	assert.NoError(t, err)
	check.True(t, opened)
	check.Equal(t, []string{"e1", "e2"}, ids)

	err = api.Subscribe(ctx, "/v1/stream/auctions/2", nil, func(realtime.ChangeEvent) error { return nil })
	check.True(t, IsNotFound(err))
}

func TestAPIErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Auction(context.Background(), 1)
	var ae *APIError
	assert.True(t, errors.As(err, &ae))
	check.Equal(t, http.StatusBadGateway, ae.Status)
	check.Equal(t, "upstream exploded", ae.Message)
	check.Equal(t, "http 502: upstream exploded", ae.Error())
}
