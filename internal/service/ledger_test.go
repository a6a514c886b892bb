package service

import (
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/model"
)

func TestSubmitBid(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)

	bid := f.submit(t, uid, a.ID, "1100")
	check.Equal(t, model.BidPending, bid.Status)
	check.Equal(t, l.ID, bid.AuctionItemID)
	check.Equal(t, "1100.00", bid.BidValue.StringFixed(2))

	_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: dec("1200")})
	check.Equal(t, CodePendingBidExists, code(err))
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	bidder := f.approvedBidder(t, a.ID)

	t.Run("no lot started", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: bidder, AuctionID: a.ID, Value: dec("1100")})
		check.Equal(t, CodeNoActiveLot, code(err))
	})

	f.start(t, a.ID, l.ID)

	t.Run("anonymous", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{AuctionID: a.ID, Value: dec("1100")})
		check.Equal(t, CodeNotAuthenticated, code(err))
	})
	t.Run("not registered", func(t *testing.T) {
		stranger := f.user(t, model.RoleUser)
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: stranger, AuctionID: a.ID, Value: dec("1100")})
		check.Equal(t, CodeNotEligible, code(err))
	})
	t.Run("below minimum", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: bidder, AuctionID: a.ID, Value: dec("1050")})
		de, ok := AsError(err)
		assert.True(t, ok)
		check.Equal(t, CodeValueTooLow, de.Code)
		assert.NotNil(t, de.NextValidValue)
		check.Equal(t, "1100.00", de.NextValidValue.StringFixed(2))
	})
	t.Run("non positive", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: bidder, AuctionID: a.ID, Value: dec("0")})
		check.Equal(t, CodeInvalidValue, code(err))
	})
	t.Run("unknown auction", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: bidder, AuctionID: 999, Value: dec("1100")})
		check.Equal(t, CodeNotFound, code(err))
	})
	t.Run("wrong lot selected", func(t *testing.T) {
		_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: bidder, AuctionID: a.ID, LotID: l.ID + 100, Value: dec("1100")})
		check.Equal(t, CodeNoActiveLot, code(err))
	})

	bids, err := f.Ledger.ListForLot(f.ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))
}

func TestSubmitInactiveAuction(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, func(in *AuctionInput) { in.Status = model.AuctionInactive })
	uid := f.approvedBidder(t, a.ID)

	_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: dec("600")})
	check.Equal(t, CodeAuctionInactive, code(err))
}

func TestSubmitDuplicateOfApprovedValue(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	alice := f.approvedBidder(t, a.ID)
	bob := f.approvedBidder(t, a.ID)

	first := f.submit(t, alice, a.ID, "1100")
	_, err := f.Ledger.Approve(f.ctx, f.admin, first.ID)
	assert.NoError(t, err)

	_, err = f.Ledger.Submit(f.ctx, BidRequest{UserID: bob, AuctionID: a.ID, Value: dec("1100")})
	de, ok := AsError(err)
	assert.True(t, ok)
	check.Equal(t, CodeDuplicateValue, de.Code)
	check.Equal(t, "1200.00", de.NextValidValue.StringFixed(2))

	second := f.submit(t, bob, a.ID, "1200")
	check.Equal(t, model.BidPending, second.Status)
}

func TestOnePendingBidUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []Code
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := dec("1100").Add(decimal.NewFromInt(int64(100 * i)))
			_, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: value})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
				return
			}
			errs = append(errs, code(err))
		}(i)
	}
	wg.Wait()

	check.Equal(t, 1, oks)
	for _, c := range errs {
		check.Equal(t, CodePendingBidExists, c)
	}
	bids, err := f.Ledger.ListForAuction(f.ctx, a.ID, uid)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))
}

func TestApproveSupersedesLowerPendingBids(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	alice := f.approvedBidder(t, a.ID)
	bob := f.approvedBidder(t, a.ID)
	carol := f.approvedBidder(t, a.ID)

	ab := f.submit(t, alice, a.ID, "1100")
	f.clock.advance(time.Second)
	bb := f.submit(t, bob, a.ID, "1500")
	f.clock.advance(time.Second)
	cb := f.submit(t, carol, a.ID, "1700")
	f.events.reset()

	approved, err := f.Ledger.Approve(f.ctx, f.admin, bb.ID)
	assert.NoError(t, err)
	check.Equal(t, model.BidApproved, approved.Status)

	got, err := f.bids.GetByID(f.ctx, ab.ID)
	assert.NoError(t, err)
	check.Equal(t, model.BidSuperseded, got.Status)
	got, err = f.bids.GetByID(f.ctx, cb.ID)
	assert.NoError(t, err)
	check.Equal(t, model.BidPending, got.Status)

	lot, err := f.lots.GetByID(f.ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, "1500.00", lot.CurrentValue.StringFixed(2))
	auction, err := f.Catalog.GetAuction(f.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, "1500.00", auction.CurrentBidValue.StringFixed(2))

	check.Equal(t, []string{
		"bids.UPDATE.approved",
		"auction_items.UPDATE",
		"auctions.UPDATE",
		"bids.UPDATE.outbid",
	}, f.events.keys())

	// Approval follows submission order: alice's earlier bid is already
	// superseded, and bob's approval blocks nothing submitted after it.
	_, err = f.Ledger.Approve(f.ctx, f.admin, ab.ID)
	check.Equal(t, CodeInvalidTransition, code(err))
	_, err = f.Ledger.Approve(f.ctx, f.admin, cb.ID)
	assert.NoError(t, err)
}

func TestApproveOutOfSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	alice := f.approvedBidder(t, a.ID)
	bob := f.approvedBidder(t, a.ID)

	// Both are above the minimum after either approval, so neither is
	// superseded.
	ab := f.submit(t, alice, a.ID, "1900")
	f.clock.advance(time.Second)
	bb := f.submit(t, bob, a.ID, "1200")

	_, err := f.Ledger.Approve(f.ctx, f.admin, bb.ID)
	assert.NoError(t, err)
	_, err = f.Ledger.Approve(f.ctx, f.admin, ab.ID)
	check.Equal(t, CodeInvalidTransition, code(err))
}

func TestApproveAndRejectRequireAdmin(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)
	bid := f.submit(t, uid, a.ID, "1100")
	f.events.reset()

	_, err := f.Ledger.Approve(f.ctx, uid, bid.ID)
	check.Equal(t, CodeForbidden, code(err))
	_, err = f.Ledger.Reject(f.ctx, uid, bid.ID)
	check.Equal(t, CodeForbidden, code(err))

	got, err := f.bids.GetByID(f.ctx, bid.ID)
	assert.NoError(t, err)
	check.Equal(t, model.BidPending, got.Status)
	check.Equal(t, 0, len(f.events.keys()))

	rejected, err := f.Ledger.Reject(f.ctx, f.admin, bid.ID)
	assert.NoError(t, err)
	check.Equal(t, model.BidRejected, rejected.Status)
	_, err = f.Ledger.Reject(f.ctx, f.admin, bid.ID)
	check.Equal(t, CodeInvalidTransition, code(err))

	// a rejected bid frees the pending slot
	next := f.submit(t, uid, a.ID, "1100")
	check.Equal(t, model.BidPending, next.Status)
}

func TestPreBidding(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, func(in *AuctionInput) {
		in.IsLive = false
		in.AllowPreBidding = true
	})
	first := f.lot(t, a.ID, 1, "1000")
	second := f.lot(t, a.ID, 2, "2000")
	uid := f.approvedBidder(t, a.ID)

	bid, err := f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, LotID: second.ID, Value: dec("2100")})
	assert.NoError(t, err)
	check.Equal(t, second.ID, bid.AuctionItemID)

	_, err = f.Ledger.Reject(f.ctx, f.admin, bid.ID)
	assert.NoError(t, err)
	bid = f.submit(t, uid, a.ID, "1100")
	check.Equal(t, first.ID, bid.AuctionItemID)

	// once a lot is in progress pre-bidding is over, and the auction is not live
	_, err = f.Ledger.Reject(f.ctx, f.admin, bid.ID)
	assert.NoError(t, err)
	f.start(t, a.ID, first.ID)
	_, err = f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: dec("1100")})
	check.Equal(t, CodeAuctionInactive, code(err))
}

func TestLeadingBid(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	alice := f.approvedBidder(t, a.ID)
	bob := f.approvedBidder(t, a.ID)

	_, err := f.Ledger.LeadingBid(f.ctx, l.ID)
	check.Equal(t, CodeNotFound, code(err))

	ab := f.submit(t, alice, a.ID, "1300")
	f.clock.advance(time.Second)
	f.submit(t, bob, a.ID, "1300")

	lead, err := f.Ledger.LeadingBid(f.ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, ab.ID, lead.ID)
}
