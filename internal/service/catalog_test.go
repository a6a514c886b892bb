package service

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/model"
)

func TestCatalogValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		mutate func(*AuctionInput)
	}{
		{"empty name", func(in *AuctionInput) { in.Name = "  " }},
		{"unknown type", func(in *AuctionInput) { in.Type = "dutch" }},
		{"zero increment", func(in *AuctionInput) { in.BidIncrement = decimal.Zero }},
		{"bad wait unit", func(in *AuctionInput) { in.RegistrationWaitValue, in.RegistrationWaitUnit = 3, "weeks" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := AuctionInput{
				Name:            "Judicial sale",
				Type:            model.AuctionTypeJudicial,
				Status:          model.AuctionActive,
				InitialBidValue: dec("100"),
				BidIncrement:    dec("10"),
			}
			tc.mutate(&in)
			_, err := f.Catalog.CreateAuction(f.ctx, f.admin, in)
			check.Equal(t, CodeInvalidValue, code(err))
		})
	}
}

func TestCatalogRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, model.RoleUser)
	dev := f.user(t, model.RoleDeveloper)

	in := AuctionInput{
		Name:            "Judicial sale",
		Type:            model.AuctionTypeJudicial,
		Status:          model.AuctionActive,
		InitialBidValue: dec("100"),
		BidIncrement:    dec("10"),
	}
	_, err := f.Catalog.CreateAuction(f.ctx, uid, in)
	check.Equal(t, CodeForbidden, code(err))

	all, err := f.Catalog.ListAuctions(f.ctx, "")
	assert.NoError(t, err)
	check.Equal(t, 0, len(all))

	a, err := f.Catalog.CreateAuction(f.ctx, dev, in)
	assert.NoError(t, err)
	check.Equal(t, "100.00", a.CurrentBidValue.StringFixed(2))
}

func TestLotOrderIndexIsUnique(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	f.lot(t, a.ID, 1, "1000")

	_, err := f.Catalog.CreateLot(f.ctx, f.admin, a.ID, LotInput{Name: "Again", OrderIndex: 1, InitialValue: dec("10")})
	check.Equal(t, CodeInvalidValue, code(err))
	_, err = f.Catalog.CreateLot(f.ctx, f.admin, 999, LotInput{Name: "Orphan", OrderIndex: 1, InitialValue: dec("10")})
	check.Equal(t, CodeNotFound, code(err))
}

func TestLotIncrementOverride(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l, err := f.Catalog.CreateLot(f.ctx, f.admin, a.ID, LotInput{
		Name:         "Tractor",
		OrderIndex:   1,
		InitialValue: dec("1000"),
		Increment:    decimal.NewNullDecimal(dec("250")),
	})
	assert.NoError(t, err)
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)

	_, err = f.Ledger.Submit(f.ctx, BidRequest{UserID: uid, AuctionID: a.ID, Value: dec("1100")})
	de, ok := AsError(err)
	assert.True(t, ok)
	check.Equal(t, CodeValueTooLow, de.Code)
	check.Equal(t, "1250.00", de.NextValidValue.StringFixed(2))
}

func TestFinishedLotIsFrozen(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.approvedBidder(t, a.ID)
	bid := f.submit(t, uid, a.ID, "1100")
	_, err := f.Progression.SetWinnerAndFinalizeLot(f.ctx, f.admin, bid.ID, false)
	assert.NoError(t, err)

	_, err = f.Catalog.UpdateLot(f.ctx, f.admin, l.ID, LotInput{Name: "Renamed", OrderIndex: 1})
	check.Equal(t, CodeInvalidTransition, code(err))
}

func TestStateServiceView(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	l := f.lot(t, a.ID, 1, "1000")
	f.start(t, a.ID, l.ID)
	uid := f.user(t, model.RoleUser)

	view, err := f.State.Get(f.ctx, 0, a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, bidstate.NotRegistered, view.State)

	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)
	view, err = f.State.Get(f.ctx, uid, a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, bidstate.RegistrationPending, view.State)

	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, nil)
	assert.NoError(t, err)
	view, err = f.State.Get(f.ctx, uid, a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, bidstate.CanBid, view.State)
	check.Equal(t, "1100.00", view.MinValidBid.StringFixed(2))

	bid := f.submit(t, uid, a.ID, "1100")
	view, err = f.State.Get(f.ctx, uid, a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, bidstate.BidPending, view.State)

	_, err = f.Progression.SetWinnerAndFinalizeLot(f.ctx, f.admin, bid.ID, false)
	assert.NoError(t, err)
	view, err = f.State.Get(f.ctx, uid, a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, bidstate.IsWinner, view.State)

	_, err = f.State.Get(f.ctx, uid, 999, 0)
	check.Equal(t, CodeNotFound, code(err))
}
