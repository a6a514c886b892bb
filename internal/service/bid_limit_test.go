package service

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/iliyamo/auction-bidding/internal/model"
)

func TestNoLimitMeansUnlimited(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, model.RoleUser)

	view, err := f.Limits.Get(f.ctx, uid)
	assert.NoError(t, err)
	check.False(t, view.Configured)
	check.True(t, view.IsUnlimited)
	check.True(t, view.Exposure.IsZero())
}

func TestLimitExceededIsRecorded(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	first := f.lot(t, a.ID, 1, "1000")
	second := f.lot(t, a.ID, 2, "1000")
	f.start(t, a.ID, first.ID)
	uid := f.approvedBidder(t, a.ID)

	_, err := f.Limits.SetLimit(f.ctx, f.admin, uid, dec("2000"), false)
	assert.NoError(t, err)

	bid := f.submit(t, uid, a.ID, "1500")
	_, err = f.Ledger.Approve(f.ctx, f.admin, bid.ID)
	assert.NoError(t, err)

	view, err := f.Limits.Get(f.ctx, uid)
	assert.NoError(t, err)
	check.True(t, view.Configured)
	check.Equal(t, "1500.00", view.Exposure.StringFixed(2))

	f.start(t, a.ID, second.ID)
	_, err = f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: dec("1100")})
	check.Equal(t, CodeLimitExceeded, code(err))

	attempts, err := f.Limits.ListFailedAttempts(f.ctx, uid)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(attempts))
	got := attempts[0]
	check.Equal(t, "1100.00", got.AttemptedValue.StringFixed(2))
	check.Equal(t, "2000.00", got.MaxLimit.StringFixed(2))
	check.Equal(t, "1500.00", got.Exposure.StringFixed(2))
	check.Equal(t, string(CodeLimitExceeded), got.Reason)
	assert.NotNil(t, got.AuctionItemID)
	check.Equal(t, second.ID, *got.AuctionItemID)

	bids, err := f.Ledger.ListForLot(f.ctx, second.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))

	// reaching the limit exactly is allowed
	_, err = f.Limits.SetLimit(f.ctx, f.admin, uid, dec("2600"), false)
	assert.NoError(t, err)
	f.submit(t, uid, a.ID, "1100")
}

func TestLimitIgnoresPendingBids(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)

	_, err := f.Limits.SetLimit(f.ctx, f.admin, uid, dec("1200"), false)
	assert.NoError(t, err)
	f.submit(t, uid, a.ID, "1200")

	view, err := f.Limits.Get(f.ctx, uid)
	assert.NoError(t, err)
	check.True(t, view.Exposure.IsZero())
}

func TestLimitIncreaseWorkflow(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, model.RoleUser)

	_, err := f.Limits.SetLimit(f.ctx, f.admin, uid, dec("1000"), false)
	assert.NoError(t, err)

	_, err = f.Limits.RequestIncrease(f.ctx, uid, dec("900"), nil)
	check.Equal(t, CodeInvalidValue, code(err))

	reason := "selling a farm"
	req, err := f.Limits.RequestIncrease(f.ctx, uid, dec("5000"), &reason)
	assert.NoError(t, err)
	check.Equal(t, model.LimitRequestPending, req.Status)
	check.Equal(t, "1000.00", req.CurrentLimit.StringFixed(2))

	_, err = f.Limits.RequestIncrease(f.ctx, uid, dec("6000"), nil)
	check.Equal(t, CodeAlreadyPending, code(err))

	_, err = f.Limits.DecideIncrease(f.ctx, uid, req.ID, true)
	check.Equal(t, CodeForbidden, code(err))

	req, err = f.Limits.DecideIncrease(f.ctx, f.admin, req.ID, true)
	assert.NoError(t, err)
	check.Equal(t, model.LimitRequestApproved, req.Status)
	assert.NotNil(t, req.ReviewedBy)
	check.Equal(t, f.admin, *req.ReviewedBy)

	view, err := f.Limits.Get(f.ctx, uid)
	assert.NoError(t, err)
	check.Equal(t, "5000.00", view.MaxLimit.StringFixed(2))
	check.False(t, view.IsUnlimited)

	_, err = f.Limits.DecideIncrease(f.ctx, f.admin, req.ID, false)
	check.Equal(t, CodeInvalidTransition, code(err))

	pending, err := f.Limits.ListRequests(f.ctx, uid, model.LimitRequestPending)
	assert.NoError(t, err)
	check.Equal(t, 0, len(pending))
}

func TestSetLimitRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, model.RoleUser)

	_, err := f.Limits.SetLimit(f.ctx, uid, uid, dec("1000000"), true)
	check.Equal(t, CodeForbidden, code(err))

	view, err := f.Limits.Get(f.ctx, uid)
	assert.NoError(t, err)
	check.False(t, view.Configured)

	_, err = f.Limits.SetLimit(f.ctx, f.admin, uid, dec("-1"), false)
	check.Equal(t, CodeInvalidValue, code(err))
}
