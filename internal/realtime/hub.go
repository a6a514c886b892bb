package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// defaultBuffer bounds how far a slow subscriber may lag before events
// addressed to it are dropped.
const defaultBuffer = 64

// ErrHubClosed is returned once Run has exited.
var ErrHubClosed = errors.New("realtime: hub closed")

// Subscription is one connected stream. It receives events of a single
// auction (AuctionID != 0), events about a single user, or both.
type Subscription struct {
	ID        string
	AuctionID uint64
	UserID    uint64
	// Privileged subscribers see bidder ids on other users' bids.
	Privileged bool

	ch chan ChangeEvent
}

// Events is closed when the subscription is removed from the hub.
func (s *Subscription) Events() <-chan ChangeEvent { return s.ch }

// Matches reports whether ev is addressed to this subscription.
func (s *Subscription) Matches(ev ChangeEvent) bool {
	if s.AuctionID != 0 && ev.AuctionID == s.AuctionID {
		switch ev.Table {
		case TableAuctions, TableLots, TableBids:
			return true
		}
	}
	return s.UserID != 0 && ev.UserID == s.UserID
}

// Hub fans change events out to subscribers. A single goroutine owns the
// subscriber indexes; everything else talks to it over channels.
type Hub struct {
	messages   chan ChangeEvent
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}

	byAuction map[uint64]map[string]*Subscription
	byUser    map[uint64]map[string]*Subscription

	buffer int
	log    *slog.Logger
}

// NewHub creates a hub whose subscribers each queue up to buffer events.
// Call Run before subscribing.
func NewHub(log *slog.Logger, buffer int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer:     buffer,
		messages:   make(chan ChangeEvent, 256),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
		byAuction:  make(map[uint64]map[string]*Subscription),
		byUser:     make(map[uint64]map[string]*Subscription),
		log:        log,
	}
}

// Run dispatches events until ctx is done, then closes every subscription.
// Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, subs := range h.byUser {
				for _, s := range subs {
					h.remove(s)
				}
			}
			for _, subs := range h.byAuction {
				for _, s := range subs {
					h.remove(s)
				}
			}
			return
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case ev := <-h.messages:
			h.broadcast(ev)
		}
	}
}

// Subscribe registers a new stream. It blocks until the hub accepts it or
// ctx is done.
func (h *Hub) Subscribe(ctx context.Context, auctionID, userID uint64, privileged bool) (*Subscription, error) {
	s := &Subscription{
		ID:         uuid.NewString(),
		AuctionID:  auctionID,
		UserID:     userID,
		Privileged: privileged,
		ch:         make(chan ChangeEvent, h.buffer),
	}
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes s and closes its channel. Unknown subscriptions are ignored.
func (h *Hub) Unsubscribe(ctx context.Context, s *Subscription) {
	select {
	case h.unregister <- s:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Publish queues ev for delivery. It implements Publisher.
func (h *Hub) Publish(ctx context.Context, ev ChangeEvent) error {
	select {
	case h.messages <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(s *Subscription) {
	if s.AuctionID != 0 {
		if h.byAuction[s.AuctionID] == nil {
			h.byAuction[s.AuctionID] = make(map[string]*Subscription)
		}
		h.byAuction[s.AuctionID][s.ID] = s
	}
	if s.UserID != 0 {
		if h.byUser[s.UserID] == nil {
			h.byUser[s.UserID] = make(map[string]*Subscription)
		}
		h.byUser[s.UserID][s.ID] = s
	}
	h.log.Debug("stream subscribed", "sub", s.ID, "auction_id", s.AuctionID, "user_id", s.UserID)
}

func (h *Hub) remove(s *Subscription) {
	_, inAuction := h.byAuction[s.AuctionID][s.ID]
	_, inUser := h.byUser[s.UserID][s.ID]
	if !inAuction && !inUser {
		return
	}
	delete(h.byAuction[s.AuctionID], s.ID)
	if len(h.byAuction[s.AuctionID]) == 0 {
		delete(h.byAuction, s.AuctionID)
	}
	delete(h.byUser[s.UserID], s.ID)
	if len(h.byUser[s.UserID]) == 0 {
		delete(h.byUser, s.UserID)
	}
	close(s.ch)
	h.log.Debug("stream closed", "sub", s.ID)
}

func (h *Hub) broadcast(ev ChangeEvent) {
	seen := make(map[string]bool)
	deliver := func(subs map[string]*Subscription) {
		for id, s := range subs {
			if seen[id] || !s.Matches(ev) {
				continue
			}
			seen[id] = true
			out := ev
			if ev.Table == TableBids && !s.Privileged && ev.UserID != s.UserID {
				out = redactBidder(ev)
			}
			select {
			case s.ch <- out:
			default:
				h.log.Warn("stream lagging, event dropped", "sub", id, "event", ev.ID)
			}
		}
	}
	deliver(h.byAuction[ev.AuctionID])
	deliver(h.byUser[ev.UserID])
}

// redactBidder hides who placed a bid from other bidders.
func redactBidder(ev ChangeEvent) ChangeEvent {
	ev.UserID = 0
	ev.Old = stripUserID(ev.Old)
	ev.New = stripUserID(ev.New)
	return ev
}

func stripUserID(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return raw
	}
	row["user_id"] = 0
	out, err := json.Marshal(row)
	if err != nil {
		return raw
	}
	return out
}
