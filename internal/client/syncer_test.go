package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/iliyamo/auction-bidding/internal/realtime"
)

func testOptions() Options {
	return Options{
		Debounce:     20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		PollWindow:   60 * time.Millisecond,
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSyncerDropsDuplicateEvents(t *testing.T) {
	var fetches, applies atomic.Int32
	stream := func(ctx context.Context, onOpen func(), fn func(realtime.ChangeEvent) error) error {
		onOpen()
		for _, id := range []string{"a", "a", "b", "a"} {
			if err := fn(realtime.ChangeEvent{ID: id, Table: realtime.TableBids, Type: realtime.OpUpdate}); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	s := newSyncer("test",
		func(context.Context) error { fetches.Add(1); return nil },
		func(realtime.ChangeEvent) { applies.Add(1) },
		stream, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	eventually(t, func() bool { return applies.Load() == 2 })
	// initial fetch, then one debounced re-fetch for the burst
	eventually(t, func() bool { return fetches.Load() >= 2 })
	time.Sleep(60 * time.Millisecond)
	check.Equal(t, int32(2), applies.Load())
	check.Equal(t, int32(2), fetches.Load())

	cancel()
	err := <-done
	check.True(t, errors.Is(err, context.Canceled))
	check.False(t, s.Stale())
}

func TestSyncerDebounceCollapsesRefetches(t *testing.T) {
	var fetches atomic.Int32
	s := newSyncer("test",
		func(context.Context) error { fetches.Add(1); return nil },
		func(realtime.ChangeEvent) {},
		nil, testOptions())

	for i := range 5 {
		assert.NoError(t, s.handle(realtime.ChangeEvent{ID: string(rune('a' + i))}))
	}
	eventually(t, func() bool { return fetches.Load() == 1 })
	time.Sleep(60 * time.Millisecond)
	check.Equal(t, int32(1), fetches.Load())
}

func TestSyncerGoesStaleWhenStreamStaysDown(t *testing.T) {
	var fetches, changes atomic.Int32
	down := errors.New("connection refused")
	s := newSyncer("test",
		func(context.Context) error { fetches.Add(1); return nil },
		func(realtime.ChangeEvent) {},
		func(context.Context, func(), func(realtime.ChangeEvent) error) error { return down },
		testOptions())
	s.OnChange(func() { changes.Add(1) })

	err := s.Run(context.Background())
	check.True(t, errors.Is(err, ErrStale))
	check.True(t, s.Stale())
	// polled at least once on top of the initial fetch
	check.True(t, fetches.Load() > 1)
	check.True(t, changes.Load() > 0)

	assert.NoError(t, s.Refresh(context.Background()))
	check.False(t, s.Stale())
}

func TestSyncerResubscribesWhilePolling(t *testing.T) {
	var attempts atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := func(ctx context.Context, onOpen func(), _ func(realtime.ChangeEvent) error) error {
		// fail twice, then hold the stream open
		if attempts.Add(1) <= 2 {
			return errors.New("unavailable")
		}
		onOpen()
		<-ctx.Done()
		return ctx.Err()
	}
	s := newSyncer("test", func(context.Context) error { return nil }, func(realtime.ChangeEvent) {}, stream, testOptions())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	eventually(t, func() bool { return attempts.Load() >= 3 })
	check.False(t, s.Stale())

	cancel()
	check.True(t, errors.Is(<-done, context.Canceled))
}
