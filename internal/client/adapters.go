package client

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

func auctionStreamPath(auctionID uint64) string { return "/v1/stream/auctions/" + itoa(auctionID) }

// BidLedgerAdapter mirrors one auction, its lots and its bids.
type BidLedgerAdapter struct {
	*syncer
	api       *API
	AuctionID uint64
	Lots      *LiveSet[model.Lot]
	Bids      *LiveSet[model.Bid]

	mu      sync.RWMutex
	auction model.Auction
}

// NewBidLedgerAdapter returns an adapter for auctionID. Call Run to start it.
func NewBidLedgerAdapter(api *API, auctionID uint64, opts Options) *BidLedgerAdapter {
	a := &BidLedgerAdapter{
		api:       api,
		AuctionID: auctionID,
		Lots:      NewLiveSet(func(l model.Lot) uint64 { return l.ID }, func(l model.Lot) time.Time { return l.UpdatedAt }),
		Bids:      NewLiveSet(func(b model.Bid) uint64 { return b.ID }, func(b model.Bid) time.Time { return b.UpdatedAt }),
	}
	stream := func(ctx context.Context, onOpen func(), fn func(realtime.ChangeEvent) error) error {
		return api.Subscribe(ctx, auctionStreamPath(auctionID), onOpen, fn)
	}
	a.syncer = newSyncer("bid_ledger", a.fetch, a.apply, stream, opts)
	return a
}

// Auction returns the local copy of the auction row.
func (a *BidLedgerAdapter) Auction() model.Auction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.auction
}

// MyBids returns the signed-in user's bids.
func (a *BidLedgerAdapter) MyBids() []model.Bid {
	var out []model.Bid
	for _, b := range a.Bids.List() {
		if b.UserID == a.api.UserID {
			out = append(out, b)
		}
	}
	return out
}

// PlaceBid submits a bid and adds the pending row locally before the
// stream confirms it.
func (a *BidLedgerAdapter) PlaceBid(ctx context.Context, lotID uint64, value decimal.Decimal) (model.Bid, error) {
	bid, err := a.api.PlaceBid(ctx, a.AuctionID, lotID, value)
	if err != nil {
		return bid, err
	}
	if a.Bids.Patch(bid) {
		a.notify()
	}
	a.schedule()
	return bid, nil
}

func (a *BidLedgerAdapter) fetch(ctx context.Context) error {
	auction, err := a.api.Auction(ctx, a.AuctionID)
	if err != nil {
		return err
	}
	lots, err := a.api.Lots(ctx, a.AuctionID)
	if err != nil {
		return err
	}
	bids, err := a.api.Bids(ctx, a.AuctionID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.auction = auction
	a.mu.Unlock()
	a.Lots.Replace(lots)
	a.Bids.Replace(bids)
	return nil
}

// apply patches full rows from UPDATE events. Inserts and deletes are left
// to the scheduled re-fetch.
func (a *BidLedgerAdapter) apply(ev realtime.ChangeEvent) {
	if ev.AuctionID != a.AuctionID || ev.Type != realtime.OpUpdate || len(ev.New) == 0 {
		return
	}
	switch ev.Table {
	case realtime.TableAuctions:
		var row model.Auction
		if json.Unmarshal(ev.New, &row) != nil || row.ID != a.AuctionID {
			return
		}
		a.mu.Lock()
		if !a.auction.UpdatedAt.After(row.UpdatedAt) {
			a.auction = row
		}
		a.mu.Unlock()
	case realtime.TableLots:
		var row model.Lot
		if json.Unmarshal(ev.New, &row) == nil {
			a.Lots.Patch(row)
		}
	case realtime.TableBids:
		var row model.Bid
		if json.Unmarshal(ev.New, &row) != nil {
			return
		}
		// Redacted rows carry user_id 0; keep the owner we already know.
		if cur, ok := a.Bids.Get(row.ID); ok && row.UserID == 0 {
			row.UserID = cur.UserID
		}
		a.Bids.Patch(row)
	}
}

// EligibilityAdapter mirrors the signed-in user's registration in one auction.
type EligibilityAdapter struct {
	*syncer
	api       *API
	AuctionID uint64

	mu  sync.RWMutex
	reg *model.Registration
}

// NewEligibilityAdapter returns an adapter for auctionID. Call Run to start it.
func NewEligibilityAdapter(api *API, auctionID uint64, opts Options) *EligibilityAdapter {
	a := &EligibilityAdapter{api: api, AuctionID: auctionID}
	stream := func(ctx context.Context, onOpen func(), fn func(realtime.ChangeEvent) error) error {
		return api.Subscribe(ctx, auctionStreamPath(auctionID), onOpen, fn)
	}
	a.syncer = newSyncer("eligibility", a.fetch, a.apply, stream, opts)
	return a
}

// Registration returns a copy of the local registration, or nil.
func (a *EligibilityAdapter) Registration() *model.Registration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.reg == nil {
		return nil
	}
	r := *a.reg
	return &r
}

// Request asks to bid in the auction and stores the result locally.
func (a *EligibilityAdapter) Request(ctx context.Context, notes string) (model.Registration, error) {
	reg, err := a.api.RequestRegistration(ctx, a.AuctionID, notes)
	if err != nil {
		return reg, err
	}
	a.store(reg)
	a.schedule()
	return reg, nil
}

// Cancel withdraws the registration and stores the result locally.
func (a *EligibilityAdapter) Cancel(ctx context.Context) (model.Registration, error) {
	reg, err := a.api.CancelRegistration(ctx, a.AuctionID)
	if err != nil {
		return reg, err
	}
	a.store(reg)
	a.schedule()
	return reg, nil
}

func (a *EligibilityAdapter) fetch(ctx context.Context) error {
	reg, err := a.api.Registration(ctx, a.AuctionID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.reg = reg
	a.mu.Unlock()
	return nil
}

func (a *EligibilityAdapter) apply(ev realtime.ChangeEvent) {
	if ev.Table != realtime.TableRegistrations || ev.Type != realtime.OpUpdate || len(ev.New) == 0 {
		return
	}
	var row model.Registration
	if json.Unmarshal(ev.New, &row) != nil {
		return
	}
	if row.AuctionID != a.AuctionID || row.UserID != a.api.UserID {
		return
	}
	a.store(row)
}

// store keeps row unless the held registration is newer.
func (a *EligibilityAdapter) store(row model.Registration) {
	a.mu.Lock()
	if a.reg == nil || !a.reg.UpdatedAt.After(row.UpdatedAt) {
		a.reg = &row
	}
	a.mu.Unlock()
	a.notify()
}

// Derive computes the bidding view from both adapters' local data.
func Derive(ledger *BidLedgerAdapter, elig *EligibilityAdapter, selectedLotID uint64, now time.Time) bidstate.View {
	lots := ledger.Lots.List()
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].OrderIndex < lots[j].OrderIndex })
	return bidstate.Derive(bidstate.Input{
		Auction:       ledger.Auction(),
		Lots:          lots,
		Registration:  elig.Registration(),
		UserBids:      ledger.MyBids(),
		SelectedLotID: selectedLotID,
		Now:           now,
	})
}
