// Package service holds the transactional core of the auction: eligibility,
// the bid ledger, lot progression and the bid limit guard. Every mutation
// runs in one database transaction and publishes its change events only
// after that transaction commits.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// Clock returns the current time. Tests swap it for a fixed clock.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// publishTimeout bounds how long a commit waits on the event fan-out.
const publishTimeout = 2 * time.Second

// outbox collects change events inside a transaction so they can be sent
// once it has committed.
type outbox struct {
	events []realtime.ChangeEvent
	log    *slog.Logger
}

func (o *outbox) add(table string, op realtime.Op, auctionID, userID uint64, old, new any) *realtime.ChangeEvent {
	ev, err := realtime.NewChangeEvent(table, op, auctionID, userID, old, new)
	if err != nil {
		o.log.Error("encode change event", "table", table, "err", err)
		return &realtime.ChangeEvent{}
	}
	o.events = append(o.events, ev)
	return &o.events[len(o.events)-1]
}

// flush publishes the collected events. Failures are logged and swallowed;
// subscribers recover through their periodic re-fetch.
func (o *outbox) flush(ctx context.Context, pub realtime.Publisher) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, ev := range o.events {
		if err := pub.Publish(ctx, ev); err != nil {
			o.log.Warn("publish change event", "event", ev.ID, "routing_key", ev.RoutingKey(), "err", err)
		}
	}
	o.events = nil
}

// requirePrivileged loads the actor's role from storage inside tx. The role
// claim of the access token is never trusted for admin mutations.
func requirePrivileged(ctx context.Context, tx *sqlx.Tx, users *repository.UserRepo, log *slog.Logger, actorID uint64, op string) error {
	if actorID == 0 {
		return newError(CodeNotAuthenticated, "sign in to continue")
	}
	role, err := users.RoleTx(ctx, tx, actorID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, repository.ErrForbidden) {
		return err
	}
	if err != nil || !model.IsPrivilegedRole(role) {
		log.Warn("privileged operation denied", "op", op, "user_id", actorID, "role", role)
		return newError(CodeForbidden, "only administrators may do this")
	}
	return nil
}

func notFound(what string) *Error { return newError(CodeNotFound, what+" not found") }
