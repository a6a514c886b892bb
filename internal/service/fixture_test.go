package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (r *recorder) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.RoutingKey())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx   context.Context
	db    *database.DB
	users *repository.UserRepo
	bids  *repository.BidRepo
	lots  *repository.LotRepo

	Catalog     *CatalogService
	Eligibility *EligibilityService
	Limits      *BidLimitService
	Ledger      *LedgerService
	Progression *ProgressionService
	State       *StateService

	events *recorder
	clock  *clock
	admin  uint64
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.NoError(t, database.Migrate(ctx, db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := repository.NewUserRepo(db)
	auctions := repository.NewAuctionRepo(db)
	lots := repository.NewLotRepo(db)
	bids := repository.NewBidRepo(db)
	regs := repository.NewRegistrationRepo(db)
	limitRepo := repository.NewBidLimitRepo(db)
	rec := &recorder{}
	clk := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	f := &fixture{ctx: ctx, db: db, users: users, bids: bids, lots: lots, events: rec, clock: clk}
	f.Catalog = NewCatalogService(db, users, auctions, lots, rec, log)
	f.Eligibility = NewEligibilityService(db, users, auctions, regs, rec, log)
	f.Limits = NewBidLimitService(db, users, bids, limitRepo, rec, log)
	f.Ledger = NewLedgerService(db, users, auctions, lots, bids, regs, f.Limits, rec, log)
	f.Progression = NewProgressionService(db, users, auctions, lots, bids, rec, log)
	f.State = NewStateService(auctions, lots, bids, regs)
	f.Catalog.SetClock(clk.now)
	f.Eligibility.SetClock(clk.now)
	f.Limits.SetClock(clk.now)
	f.Ledger.SetClock(clk.now)
	f.Progression.SetClock(clk.now)
	f.State.SetClock(clk.now)

	f.admin = f.user(t, model.RoleAdmin)
	return f
}

func (f *fixture) user(t *testing.T, role string) uint64 {
	t.Helper()
	f.seq++
	// bcrypt.MinCost keeps the suite fast.
	id, err := f.users.Create(f.ctx, "user"+strconv.Itoa(f.seq)+"@example.com", "secret-password", role, 4)
	assert.NoError(t, err)
	return id
}

func (f *fixture) auction(t *testing.T, mutate func(*AuctionInput)) model.Auction {
	t.Helper()
	in := AuctionInput{
		Name:            "Spring cattle",
		Type:            model.AuctionTypeRural,
		Status:          model.AuctionActive,
		IsLive:          true,
		InitialBidValue: dec("500"),
		BidIncrement:    dec("100"),
	}
	if mutate != nil {
		mutate(&in)
	}
	a, err := f.Catalog.CreateAuction(f.ctx, f.admin, in)
	assert.NoError(t, err)
	return a
}

func (f *fixture) lot(t *testing.T, auctionID uint64, order int, initial string) model.Lot {
	t.Helper()
	l, err := f.Catalog.CreateLot(f.ctx, f.admin, auctionID, LotInput{
		Name:         "Lot " + strconv.Itoa(order),
		OrderIndex:   order,
		InitialValue: dec(initial),
	})
	assert.NoError(t, err)
	return l
}

// approvedBidder creates a user with an approved registration in auctionID.
func (f *fixture) approvedBidder(t *testing.T, auctionID uint64) uint64 {
	t.Helper()
	uid := f.user(t, model.RoleUser)
	reg, err := f.Eligibility.Request(f.ctx, uid, auctionID, nil)
	assert.NoError(t, err)
	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, nil)
	assert.NoError(t, err)
	return uid
}

func (f *fixture) start(t *testing.T, auctionID, lotID uint64) {
	t.Helper()
	_, err := f.Progression.StartNextLot(f.ctx, f.admin, auctionID, lotID)
	assert.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, userID, auctionID uint64, value string) model.Bid {
	t.Helper()
	b, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: userID, AuctionID: auctionID, Value: dec(value)})
	assert.NoError(t, err)
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func code(err error) Code {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}
