package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/config"
	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/handler"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
	"github.com/iliyamo/auction-bidding/internal/router"
	"github.com/iliyamo/auction-bidding/internal/service"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-password"
)

type server struct {
	e *echo.Echo
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{Env: "test", JWTSecret: "test-secret", AccessTTLMin: 15, RefreshTTLDays: 1, BcryptCost: 4}

	db, err := database.OpenSQLite(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.NoError(t, database.Migrate(ctx, db))

	users := repository.NewUserRepo(db)
	auctions := repository.NewAuctionRepo(db)
	lots := repository.NewLotRepo(db)
	bids := repository.NewBidRepo(db)
	regs := repository.NewRegistrationRepo(db)
	_, err = users.EnsureUser(ctx, adminEmail, adminPassword, model.RoleAdmin, cfg.BcryptCost)
	assert.NoError(t, err)

	hub := realtime.NewHub(logger, 16)
	limitSvc := service.NewBidLimitService(db, users, bids, repository.NewBidLimitRepo(db), hub, logger)
	h := router.Handlers{
		Auth: handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), logger),
		Auctions: &handler.AuctionHandler{
			Catalog: service.NewCatalogService(db, users, auctions, lots, hub, logger),
			Log:     logger,
		},
		Registrations: &handler.RegistrationHandler{
			Eligibility: service.NewEligibilityService(db, users, auctions, regs, hub, logger),
			Log:         logger,
		},
		Bids: &handler.BidHandler{
			Ledger:      service.NewLedgerService(db, users, auctions, lots, bids, regs, limitSvc, hub, logger),
			Progression: service.NewProgressionService(db, users, auctions, lots, bids, hub, logger),
			State:       service.NewStateService(auctions, lots, bids, regs),
			Log:         logger,
		},
		Limits: &handler.LimitHandler{Limits: limitSvc, Log: logger},
		Stream: &handler.StreamHandler{Hub: hub, Heartbeat: time.Second, Log: logger},
	}
	e := echo.New()
	router.Register(e, db, h, router.Middlewares{}, cfg.JWTSecret)
	return &server{e: e}
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		assert.NoError(t, err)
		r = bytes.NewReader(bs)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type authBody struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
}

func (s *server) login(t *testing.T, email, password string) authBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
	assert.Equal(t, http.StatusOK, rec.Code)
	return decode[authBody](t, rec)
}

func (s *server) signup(t *testing.T, email string) authBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": "bidder-password"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	return decode[authBody](t, rec)
}

type errBody struct {
	Error          string          `json:"error"`
	Code           string          `json:"code"`
	NextValidValue decimal.Decimal `json:"next_valid_value"`
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	check.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
	rec := s.do(t, http.MethodGet, "/readyz", "", nil)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "ready", decode[map[string]any](t, rec)["status"])
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)
	bidder := s.signup(t, "Bidder@Example.com")
	check.Equal(t, model.RoleUser, bidder.User.Role)

	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "bidder@example.com", "password": "bidder-password"})
	check.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "x@example.com", "password": "short"})
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "bidder@example.com", "password": "wrong-password"})
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	again := s.login(t, "bidder@example.com", "bidder-password")
	check.Equal(t, bidder.User.ID, again.User.ID)

	rec = s.do(t, http.MethodGet, "/v1/me", again.Access.Token, nil)
	check.Equal(t, http.StatusOK, rec.Code)

	// bidders never reach admin routes
	rec = s.do(t, http.MethodPost, "/v1/admin/auctions", again.Access.Token, map[string]any{"name": "x"})
	check.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLiveBiddingOverHTTP(t *testing.T) {
	s := newServer(t)
	admin := s.login(t, adminEmail, adminPassword).Access.Token
	alice := s.signup(t, "alice@example.com")
	bob := s.signup(t, "bob@example.com")

	rec := s.do(t, http.MethodPost, "/v1/admin/auctions", admin, map[string]any{
		"name": "Spring cattle", "type": model.AuctionTypeRural, "is_live": true,
		"initial_bid_value": "500", "bid_increment": "100",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	auction := decode[model.Auction](t, rec)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/auctions/%d/lots", auction.ID), admin, map[string]any{
		"name": "Lot 1", "order_index": 1, "initial_value": "500",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	lot := decode[model.Lot](t, rec)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/auctions/%d/lots/%d/start", auction.ID, lot.ID), admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	bidsPath := fmt.Sprintf("/v1/auctions/%d/bids", auction.ID)

	// not registered yet
	rec = s.do(t, http.MethodPost, bidsPath, alice.Access.Token, map[string]any{"value": "600"})
	check.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	check.Equal(t, string(service.CodeNotEligible), decode[errBody](t, rec).Code)

	for _, who := range []authBody{alice, bob} {
		rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/auctions/%d/registration", auction.ID), who.Access.Token, map[string]any{})
		assert.Equal(t, http.StatusCreated, rec.Code)
		reg := decode[model.Registration](t, rec)
		rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/registrations/%d/approve", reg.ID), admin, map[string]any{})
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec = s.do(t, http.MethodPost, bidsPath, alice.Access.Token, map[string]any{"value": "600.123"})
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, bidsPath, alice.Access.Token, map[string]any{"value": "600"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	first := decode[model.Bid](t, rec)
	check.Equal(t, model.BidPending, first.Status)

	rec = s.do(t, http.MethodPost, bidsPath, alice.Access.Token, map[string]any{"value": "700"})
	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, string(service.CodePendingBidExists), decode[errBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/bids/%d/approve", first.ID), admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, bidsPath, bob.Access.Token, map[string]any{"value": "600"})
	check.Equal(t, http.StatusConflict, rec.Code)
	dup := decode[errBody](t, rec)
	check.Equal(t, string(service.CodeDuplicateValue), dup.Code)
	check.Equal(t, "700.00", dup.NextValidValue.StringFixed(2))

	// bob sees alice's bid without her identity, the admin sees everything
	rec = s.do(t, http.MethodGet, bidsPath, bob.Access.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	seen := decode[struct{ Items []model.Bid }](t, rec).Items
	assert.Equal(t, 1, len(seen))
	check.Equal(t, uint64(0), seen[0].UserID)

	rec = s.do(t, http.MethodGet, bidsPath, alice.Access.Token, nil)
	check.Equal(t, alice.User.ID, decode[struct{ Items []model.Bid }](t, rec).Items[0].UserID)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/lots/%d/bids", lot.ID), admin, nil)
	check.Equal(t, alice.User.ID, decode[struct{ Items []model.Bid }](t, rec).Items[0].UserID)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/bids/%d/winner", first.ID), admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/v1/auctions/%d/state?lot_id=%d", auction.ID, lot.ID), alice.Access.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, bidstate.IsWinner, decode[bidstate.View](t, rec).State)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/v1/lots/%d", lot.ID), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, model.LotFinished, decode[model.Lot](t, rec).Status)
}
