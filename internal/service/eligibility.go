package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// EligibilityService owns the registration lifecycle:
//
//	(none) -> pending -> approved | rejected
//	any non-canceled -> canceled -> pending
//
// A rejected registration can be requested again only once the auction's
// registration wait has elapsed since the rejection.
type EligibilityService struct {
	db       *database.DB
	users    *repository.UserRepo
	auctions *repository.AuctionRepo
	regs     *repository.RegistrationRepo
	events   realtime.Publisher
	log      *slog.Logger
	now      Clock
}

func NewEligibilityService(db *database.DB, users *repository.UserRepo, auctions *repository.AuctionRepo,
	regs *repository.RegistrationRepo, events realtime.Publisher, log *slog.Logger) *EligibilityService {
	return &EligibilityService{db: db, users: users, auctions: auctions, regs: regs,
		events: events, log: log, now: utcNow}
}

// SetClock replaces the time source.
func (s *EligibilityService) SetClock(c Clock) { s.now = c }

// Get returns the user's registration for the auction, or NOT_FOUND.
func (s *EligibilityService) Get(ctx context.Context, userID, auctionID uint64) (model.Registration, error) {
	if userID == 0 {
		return model.Registration{}, newError(CodeNotAuthenticated, "sign in to continue")
	}
	reg, err := s.regs.GetForUser(ctx, userID, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return reg, notFound("registration")
	}
	return reg, err
}

// ListByAuction lists an auction's registrations for administrators.
func (s *EligibilityService) ListByAuction(ctx context.Context, auctionID uint64, status string) ([]model.Registration, error) {
	return s.regs.ListByAuction(ctx, auctionID, status)
}

// ListForUser lists every registration of the user.
func (s *EligibilityService) ListForUser(ctx context.Context, userID uint64) ([]model.Registration, error) {
	return s.regs.ListByUser(ctx, userID)
}

// Request asks for permission to bid in an auction. On ALREADY_PENDING and
// ALREADY_APPROVED the current registration is returned with the error.
func (s *EligibilityService) Request(ctx context.Context, userID, auctionID uint64, clientNotes *string) (model.Registration, error) {
	if userID == 0 {
		return model.Registration{}, newError(CodeNotAuthenticated, "sign in to request registration")
	}
	box := &outbox{log: s.log}
	var reg model.Registration
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetTx(ctx, tx, auctionID, false)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("auction")
		}
		if err != nil {
			return err
		}
		now := s.now()
		reg, err = s.regs.GetForUserTx(ctx, tx, userID, auctionID)
		if errors.Is(err, sql.ErrNoRows) {
			reg = model.Registration{UserID: userID, AuctionID: auctionID, ClientNotes: clientNotes}
			if err := s.regs.CreatePendingTx(ctx, tx, &reg, now); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return newError(CodeAlreadyPending, "your registration is already awaiting review")
				}
				return err
			}
			box.add(realtime.TableRegistrations, realtime.OpInsert, auctionID, userID, nil, reg)
			return nil
		}
		if err != nil {
			return err
		}
		old := reg
		switch reg.Status {
		case model.RegistrationPending:
			return newError(CodeAlreadyPending, "your registration is already awaiting review")
		case model.RegistrationApproved:
			return newError(CodeAlreadyApproved, "you are already approved to bid in this auction")
		case model.RegistrationRejected:
			if until := reg.CooldownEnds(auction.RegistrationWait()); now.Before(until) {
				return newError(CodeCooldownActive, "your registration was rejected recently; try again later").
					withRetryAt(until)
			}
		case model.RegistrationCanceled:
		default:
			return newError(CodeInvalidTransition, "registration is in an unknown state")
		}
		if err := s.regs.SetStatusTx(ctx, tx, &reg, model.RegistrationPending, clientNotes, now); err != nil {
			return err
		}
		box.add(realtime.TableRegistrations, realtime.OpUpdate, auctionID, userID, old, reg)
		return nil
	})
	if err != nil {
		s.logFailure("registration request failed", err, userID, auctionID)
		return reg, err
	}
	box.flush(ctx, s.events)
	return reg, nil
}

// Cancel withdraws the user's registration from any non-canceled state.
// Requesting again afterwards has no cooldown.
func (s *EligibilityService) Cancel(ctx context.Context, userID, auctionID uint64) (model.Registration, error) {
	if userID == 0 {
		return model.Registration{}, newError(CodeNotAuthenticated, "sign in to continue")
	}
	box := &outbox{log: s.log}
	var reg model.Registration
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		reg, err = s.regs.GetForUserTx(ctx, tx, userID, auctionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("registration")
		}
		if err != nil {
			return err
		}
		if reg.Status == model.RegistrationCanceled {
			return newError(CodeAlreadyCanceled, "registration is already canceled")
		}
		old := reg
		if err := s.regs.SetStatusTx(ctx, tx, &reg, model.RegistrationCanceled, nil, s.now()); err != nil {
			return err
		}
		box.add(realtime.TableRegistrations, realtime.OpUpdate, auctionID, userID, old, reg)
		return nil
	})
	if err != nil {
		s.logFailure("registration cancel failed", err, userID, auctionID)
		return reg, err
	}
	box.flush(ctx, s.events)
	return reg, nil
}

// Reopen is the administrative path that moves a canceled registration back
// to pending on the user's behalf.
func (s *EligibilityService) Reopen(ctx context.Context, actorID, userID, auctionID uint64) (model.Registration, error) {
	box := &outbox{log: s.log}
	var reg model.Registration
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "reopen_registration"); err != nil {
			return err
		}
		var err error
		reg, err = s.regs.GetForUserTx(ctx, tx, userID, auctionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("registration")
		}
		if err != nil {
			return err
		}
		if reg.Status != model.RegistrationCanceled {
			return newError(CodeInvalidTransition, "only canceled registrations can be reopened")
		}
		old := reg
		if err := s.regs.SetStatusTx(ctx, tx, &reg, model.RegistrationPending, nil, s.now()); err != nil {
			return err
		}
		box.add(realtime.TableRegistrations, realtime.OpUpdate, auctionID, userID, old, reg)
		return nil
	})
	if err != nil {
		s.logFailure("registration reopen failed", err, userID, auctionID)
		return reg, err
	}
	box.flush(ctx, s.events)
	return reg, nil
}

// Decide approves or rejects a registration. Approval is allowed from
// pending or rejected; rejection from pending or approved.
func (s *EligibilityService) Decide(ctx context.Context, actorID, registrationID uint64, approve bool, internalNotes *string) (model.Registration, error) {
	box := &outbox{log: s.log}
	var reg model.Registration
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "decide_registration"); err != nil {
			return err
		}
		var err error
		reg, err = s.regs.GetTx(ctx, tx, registrationID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("registration")
		}
		if err != nil {
			return err
		}
		target := model.RegistrationRejected
		allowed := reg.Status == model.RegistrationPending || reg.Status == model.RegistrationApproved
		if approve {
			target = model.RegistrationApproved
			allowed = reg.Status == model.RegistrationPending || reg.Status == model.RegistrationRejected
		}
		if !allowed {
			return newError(CodeInvalidTransition, "cannot move a "+reg.Status+" registration to "+target)
		}
		old := reg
		if err := s.regs.DecideTx(ctx, tx, &reg, target, internalNotes, s.now()); err != nil {
			return err
		}
		box.add(realtime.TableRegistrations, realtime.OpUpdate, reg.AuctionID, reg.UserID, old, reg)
		return nil
	})
	if err != nil {
		s.logFailure("registration decision failed", err, reg.UserID, reg.AuctionID)
		return reg, err
	}
	s.log.Info("registration decided", "registration_id", reg.ID, "status", reg.Status, "actor", actorID)
	box.flush(ctx, s.events)
	return reg, nil
}

func (s *EligibilityService) logFailure(msg string, err error, userID, auctionID uint64) {
	if de, ok := AsError(err); ok {
		s.log.Info(msg, "code", de.Code, "user_id", userID, "auction_id", auctionID)
		return
	}
	s.log.Error(msg, "err", err, "user_id", userID, "auction_id", auctionID)
}
