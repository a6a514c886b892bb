package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// AuctionInput carries the admin-editable fields of an auction.
type AuctionInput struct {
	Name                  string
	Type                  string
	Status                string
	IsLive                bool
	InitialBidValue       decimal.Decimal
	BidIncrement          decimal.Decimal
	StartDate             *time.Time
	EndDate               *time.Time
	AllowPreBidding       bool
	RegistrationWaitValue int
	RegistrationWaitUnit  string
}

// LotInput carries the admin-editable fields of a lot. InitialValue is
// only read on create.
type LotInput struct {
	Name         string
	Description  *string
	OrderIndex   int
	InitialValue decimal.Decimal
	Increment    decimal.NullDecimal
}

// CatalogService manages auctions and lots for administrators and serves
// them to everyone. Lot status and values are left to the ledger and the
// progression engine.
type CatalogService struct {
	db       *database.DB
	users    *repository.UserRepo
	auctions *repository.AuctionRepo
	lots     *repository.LotRepo
	events   realtime.Publisher
	log      *slog.Logger
	now      Clock
}

func NewCatalogService(db *database.DB, users *repository.UserRepo, auctions *repository.AuctionRepo,
	lots *repository.LotRepo, events realtime.Publisher, log *slog.Logger) *CatalogService {
	return &CatalogService{db: db, users: users, auctions: auctions, lots: lots,
		events: events, log: log, now: utcNow}
}

// SetClock replaces the time source.
func (s *CatalogService) SetClock(c Clock) { s.now = c }

func (in AuctionInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return newError(CodeInvalidValue, "auction name is required")
	case !model.ValidAuctionType(in.Type):
		return newError(CodeInvalidValue, "auction type must be rural or judicial")
	case in.Status != model.AuctionActive && in.Status != model.AuctionInactive:
		return newError(CodeInvalidValue, "auction status must be active or inactive")
	case in.InitialBidValue.IsNegative():
		return newError(CodeInvalidValue, "initial bid value cannot be negative")
	case !in.BidIncrement.IsPositive():
		return newError(CodeInvalidValue, "bid increment must be positive")
	case in.RegistrationWaitValue < 0:
		return newError(CodeInvalidValue, "registration wait cannot be negative")
	case in.RegistrationWaitValue > 0 && !model.ValidWaitUnit(in.RegistrationWaitUnit):
		return newError(CodeInvalidValue, "registration wait unit must be minutes, hours or days")
	case in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate):
		return newError(CodeInvalidValue, "end date is before start date")
	}
	return nil
}

func (in AuctionInput) apply(a *model.Auction) {
	a.Name = strings.TrimSpace(in.Name)
	a.Type = in.Type
	a.Status = in.Status
	a.IsLive = in.IsLive
	a.InitialBidValue = in.InitialBidValue
	a.BidIncrement = in.BidIncrement
	a.StartDate = in.StartDate
	a.EndDate = in.EndDate
	a.AllowPreBidding = in.AllowPreBidding
	a.RegistrationWaitValue = in.RegistrationWaitValue
	a.RegistrationWaitUnit = in.RegistrationWaitUnit
	if a.RegistrationWaitUnit == "" {
		a.RegistrationWaitUnit = model.WaitMinutes
	}
}

// CreateAuction adds an auction.
func (s *CatalogService) CreateAuction(ctx context.Context, actorID uint64, in AuctionInput) (model.Auction, error) {
	if err := in.validate(); err != nil {
		return model.Auction{}, err
	}
	box := &outbox{log: s.log}
	var a model.Auction
	in.apply(&a)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "create_auction"); err != nil {
			return err
		}
		if err := s.auctions.CreateTx(ctx, tx, &a, s.now()); err != nil {
			return err
		}
		box.add(realtime.TableAuctions, realtime.OpInsert, a.ID, 0, nil, a)
		return nil
	})
	if err != nil {
		return a, err
	}
	s.log.Info("auction created", "auction_id", a.ID, "actor", actorID)
	box.flush(ctx, s.events)
	return a, nil
}

// UpdateAuction rewrites an auction's editable fields. Raising the initial
// value above the current bid value lifts the current value with it.
func (s *CatalogService) UpdateAuction(ctx context.Context, actorID, auctionID uint64, in AuctionInput) (model.Auction, error) {
	if err := in.validate(); err != nil {
		return model.Auction{}, err
	}
	box := &outbox{log: s.log}
	var a model.Auction
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "update_auction"); err != nil {
			return err
		}
		var err error
		a, err = s.auctions.GetTx(ctx, tx, auctionID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("auction")
		}
		if err != nil {
			return err
		}
		old := a
		in.apply(&a)
		now := s.now()
		if err := s.auctions.UpdateTx(ctx, tx, &a, now); err != nil {
			return err
		}
		if err := s.auctions.RaiseCurrentBidTx(ctx, tx, &a, a.InitialBidValue, now); err != nil {
			return err
		}
		box.add(realtime.TableAuctions, realtime.OpUpdate, a.ID, 0, old, a)
		return nil
	})
	if err != nil {
		return a, err
	}
	s.log.Info("auction updated", "auction_id", a.ID, "actor", actorID)
	box.flush(ctx, s.events)
	return a, nil
}

// GetAuction returns one auction.
func (s *CatalogService) GetAuction(ctx context.Context, id uint64) (model.Auction, error) {
	a, err := s.auctions.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return a, notFound("auction")
	}
	return a, err
}

// ListAuctions lists auctions; an empty status lists all.
func (s *CatalogService) ListAuctions(ctx context.Context, status string) ([]model.Auction, error) {
	return s.auctions.List(ctx, status)
}

// ListLots returns the lots of an auction in sequence.
func (s *CatalogService) ListLots(ctx context.Context, auctionID uint64) ([]model.Lot, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.lots.ListByAuction(ctx, auctionID)
}

// GetLot returns one lot.
func (s *CatalogService) GetLot(ctx context.Context, id uint64) (model.Lot, error) {
	l, err := s.lots.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return l, notFound("lot")
	}
	return l, err
}

func (in LotInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return newError(CodeInvalidValue, "lot name is required")
	case in.OrderIndex < 0:
		return newError(CodeInvalidValue, "order index cannot be negative")
	case in.InitialValue.IsNegative():
		return newError(CodeInvalidValue, "initial value cannot be negative")
	case in.Increment.Valid && !in.Increment.Decimal.IsPositive():
		return newError(CodeInvalidValue, "increment override must be positive")
	}
	return nil
}

// CreateLot appends a lot to an auction. Order indexes are unique per auction.
func (s *CatalogService) CreateLot(ctx context.Context, actorID, auctionID uint64, in LotInput) (model.Lot, error) {
	if err := in.validate(); err != nil {
		return model.Lot{}, err
	}
	box := &outbox{log: s.log}
	l := model.Lot{
		AuctionID:    auctionID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		OrderIndex:   in.OrderIndex,
		InitialValue: in.InitialValue,
		Increment:    in.Increment,
	}
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "create_lot"); err != nil {
			return err
		}
		if _, err := s.auctions.GetTx(ctx, tx, auctionID, false); errors.Is(err, sql.ErrNoRows) {
			return notFound("auction")
		} else if err != nil {
			return err
		}
		if err := s.lots.CreateTx(ctx, tx, &l, s.now()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return newError(CodeInvalidValue, "another lot of this auction already uses that order index")
			}
			return err
		}
		box.add(realtime.TableLots, realtime.OpInsert, auctionID, 0, nil, l)
		return nil
	})
	if err != nil {
		return l, err
	}
	s.log.Info("lot created", "lot_id", l.ID, "auction_id", auctionID, "actor", actorID)
	box.flush(ctx, s.events)
	return l, nil
}

// UpdateLot rewrites a lot's descriptive fields. Finished lots are frozen.
func (s *CatalogService) UpdateLot(ctx context.Context, actorID, lotID uint64, in LotInput) (model.Lot, error) {
	if err := in.validate(); err != nil {
		return model.Lot{}, err
	}
	box := &outbox{log: s.log}
	var l model.Lot
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "update_lot"); err != nil {
			return err
		}
		var err error
		l, err = s.lots.GetTx(ctx, tx, lotID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("lot")
		}
		if err != nil {
			return err
		}
		if l.IsFinished() {
			return newError(CodeInvalidTransition, "a finished lot cannot be edited")
		}
		old := l
		l.Name, l.Description, l.OrderIndex, l.Increment = strings.TrimSpace(in.Name), in.Description, in.OrderIndex, in.Increment
		if err := s.lots.UpdateDetailsTx(ctx, tx, &l, s.now()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return newError(CodeInvalidValue, "another lot of this auction already uses that order index")
			}
			return err
		}
		box.add(realtime.TableLots, realtime.OpUpdate, l.AuctionID, 0, old, l)
		return nil
	})
	if err != nil {
		return l, err
	}
	box.flush(ctx, s.events)
	return l, nil
}

// SetLotImage stores url as the lot's image and returns the lot together
// with the URL it replaced, so the caller can delete the old object.
func (s *CatalogService) SetLotImage(ctx context.Context, actorID, lotID uint64, url *string) (model.Lot, *string, error) {
	box := &outbox{log: s.log}
	var (
		l        model.Lot
		previous *string
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "set_lot_image"); err != nil {
			return err
		}
		var err error
		l, err = s.lots.GetTx(ctx, tx, lotID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("lot")
		}
		if err != nil {
			return err
		}
		old := l
		previous = l.ImageURL
		now := s.now()
		if err := s.lots.SetImageURLTx(ctx, tx, lotID, url, now); err != nil {
			return err
		}
		l.ImageURL, l.UpdatedAt = url, now
		box.add(realtime.TableLots, realtime.OpUpdate, l.AuctionID, 0, old, l)
		return nil
	})
	if err != nil {
		return l, nil, err
	}
	box.flush(ctx, s.events)
	return l, previous, nil
}

// Authorize checks actorID against the stored privileged roles without
// mutating anything. Handlers call it before slow side effects such as
// uploads.
func (s *CatalogService) Authorize(ctx context.Context, actorID uint64, op string) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return requirePrivileged(ctx, tx, s.users, s.log, actorID, op)
	})
}
