package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// StateService assembles the bidding view of one auction for one user.
type StateService struct {
	auctions *repository.AuctionRepo
	lots     *repository.LotRepo
	bids     *repository.BidRepo
	regs     *repository.RegistrationRepo
	now      Clock
}

func NewStateService(auctions *repository.AuctionRepo, lots *repository.LotRepo,
	bids *repository.BidRepo, regs *repository.RegistrationRepo) *StateService {
	return &StateService{auctions: auctions, lots: lots, bids: bids, regs: regs, now: utcNow}
}

// SetClock replaces the time source.
func (s *StateService) SetClock(c Clock) { s.now = c }

// Get derives the view. A zero userID yields the anonymous view, which is
// always not_registered for an active auction.
func (s *StateService) Get(ctx context.Context, userID, auctionID, selectedLotID uint64) (bidstate.View, error) {
	auction, err := s.auctions.GetByID(ctx, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return bidstate.View{}, notFound("auction")
	}
	if err != nil {
		return bidstate.View{}, err
	}
	lots, err := s.lots.ListByAuction(ctx, auctionID)
	if err != nil {
		return bidstate.View{}, err
	}
	in := bidstate.Input{Auction: auction, Lots: lots, SelectedLotID: selectedLotID, Now: s.now()}
	if userID != 0 {
		reg, err := s.regs.GetForUser(ctx, userID, auctionID)
		switch {
		case err == nil:
			in.Registration = &reg
		case !errors.Is(err, sql.ErrNoRows):
			return bidstate.View{}, err
		}
		if in.UserBids, err = s.bids.ListByAuction(ctx, auctionID, userID); err != nil {
			return bidstate.View{}, err
		}
	}
	return bidstate.Derive(in), nil
}

