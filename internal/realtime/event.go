// Package realtime carries row-level change events from the services to
// connected clients. Delivery is best effort: events may arrive out of
// order, twice, or not at all, and consumers re-read server state when in
// doubt.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tables whose rows are published.
const (
	TableAuctions      = "auctions"
	TableLots          = "auction_items"
	TableBids          = "bids"
	TableRegistrations = "auction_registrations"
	TableBidLimits     = "bid_limits"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent describes one row change. New holds the full row after the
// change (absent on DELETE); Old holds it before (absent on INSERT).
type ChangeEvent struct {
	ID        string            `json:"id"`
	Table     string            `json:"table"`
	Type      Op                `json:"type"`
	AuctionID uint64            `json:"auction_id,omitempty"`
	UserID    uint64            `json:"user_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Old       json.RawMessage   `json:"old,omitempty"`
	New       json.RawMessage   `json:"new,omitempty"`
	At        time.Time         `json:"at"`
}

// NewChangeEvent builds an event with a fresh id. old and new are marshalled
// as JSON; pass nil to omit either side.
func NewChangeEvent(table string, op Op, auctionID, userID uint64, old, new any) (ChangeEvent, error) {
	ev := ChangeEvent{
		ID:        uuid.NewString(),
		Table:     table,
		Type:      op,
		AuctionID: auctionID,
		UserID:    userID,
		At:        time.Now().UTC(),
	}
	var err error
	if old != nil {
		if ev.Old, err = json.Marshal(old); err != nil {
			return ChangeEvent{}, err
		}
	}
	if new != nil {
		if ev.New, err = json.Marshal(new); err != nil {
			return ChangeEvent{}, err
		}
	}
	return ev, nil
}

// RoutingKey names the event on the broker: "<table>.<type>[.<reason>]".
func (e ChangeEvent) RoutingKey() string {
	k := e.Table + "." + string(e.Type)
	if e.Reason != "" {
		k += "." + e.Reason
	}
	return k
}

// Publisher fans a change out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev ChangeEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, ChangeEvent) error { return nil })
