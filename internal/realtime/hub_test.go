package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type bidRow struct {
	ID     uint64 `json:"id"`
	UserID uint64 `json:"user_id"`
}

func receive(t *testing.T, s *Subscription) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		assert.True(t, ok)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return ChangeEvent{}
	}
}

func quiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %s", ev.RoutingKey())
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil, 8)
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestHubRedactsOtherBidders(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()

	bidder, err := h.Subscribe(ctx, 1, 7, false)
	assert.NoError(t, err)
	admin, err := h.Subscribe(ctx, 1, 1, true)
	assert.NoError(t, err)

	ev, err := NewChangeEvent(TableBids, OpInsert, 1, 8, nil, bidRow{ID: 3, UserID: 8})
	assert.NoError(t, err)
	assert.NoError(t, h.Publish(ctx, ev))

	got := receive(t, bidder)
	check.Equal(t, uint64(0), got.UserID)
	var row bidRow
	assert.NoError(t, json.Unmarshal(got.New, &row))
	check.Equal(t, uint64(3), row.ID)
	check.Equal(t, uint64(0), row.UserID)

	got = receive(t, admin)
	check.Equal(t, uint64(8), got.UserID)
	assert.NoError(t, json.Unmarshal(got.New, &row))
	check.Equal(t, uint64(8), row.UserID)

	own, err := NewChangeEvent(TableBids, OpUpdate, 1, 7, bidRow{ID: 4, UserID: 7}, bidRow{ID: 4, UserID: 7})
	assert.NoError(t, err)
	assert.NoError(t, h.Publish(ctx, own))
	got = receive(t, bidder)
	check.Equal(t, own.ID, got.ID)
	check.Equal(t, uint64(7), got.UserID)
	// matched by auction and by user, delivered once
	quiet(t, bidder)
}

func TestHubRouting(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()

	auctionOne, err := h.Subscribe(ctx, 1, 7, false)
	assert.NoError(t, err)
	personal, err := h.Subscribe(ctx, 0, 9, false)
	assert.NoError(t, err)

	// registrations are private to their user
	reg, err := NewChangeEvent(TableRegistrations, OpUpdate, 1, 9, nil, map[string]any{"id": 1})
	assert.NoError(t, err)
	assert.NoError(t, h.Publish(ctx, reg))
	check.Equal(t, reg.ID, receive(t, personal).ID)
	quiet(t, auctionOne)

	other, err := NewChangeEvent(TableLots, OpUpdate, 2, 0, nil, map[string]any{"id": 5})
	assert.NoError(t, err)
	assert.NoError(t, h.Publish(ctx, other))
	quiet(t, auctionOne)
	quiet(t, personal)

	h.Unsubscribe(ctx, auctionOne)
	_, open := <-auctionOne.Events()
	check.False(t, open)
}

func TestHubClose(t *testing.T) {
	h, cancel := startHub(t)
	ctx := context.Background()

	s, err := h.Subscribe(ctx, 1, 7, false)
	assert.NoError(t, err)
	cancel()

	_, open := <-s.Events()
	check.False(t, open)

	_, err = h.Subscribe(ctx, 1, 7, false)
	check.True(t, errors.Is(err, ErrHubClosed))
	// does not block once the hub is gone
	h.Unsubscribe(ctx, s)
}

func TestSubscriptionMatches(t *testing.T) {
	s := &Subscription{AuctionID: 1, UserID: 7}
	check.True(t, s.Matches(ChangeEvent{Table: TableLots, AuctionID: 1}))
	check.True(t, s.Matches(ChangeEvent{Table: TableBidLimits, UserID: 7}))
	check.False(t, s.Matches(ChangeEvent{Table: TableRegistrations, AuctionID: 1, UserID: 8}))
	check.False(t, s.Matches(ChangeEvent{Table: TableAuctions, AuctionID: 2}))
}
