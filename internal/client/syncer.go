package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/auction-bidding/internal/realtime"
)

// ErrStale is returned by Run when the stream stayed down for the whole
// polling window. The adapter keeps its last data until Refresh succeeds.
var ErrStale = errors.New("client: stream unavailable, data is stale")

// Options tune an adapter's reconciliation.
type Options struct {
	Debounce     time.Duration // delay before the authoritative re-fetch after events
	PollInterval time.Duration // fallback polling period while the stream is down
	PollWindow   time.Duration // how long to poll before going stale
	SeenEvents   int           // event ids remembered for de-duplication
	Log          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.PollWindow <= 0 {
		o.PollWindow = 5 * time.Minute
	}
	if o.SeenEvents <= 0 {
		o.SeenEvents = 1024
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// streamFunc opens a change stream and blocks until it ends.
type streamFunc func(ctx context.Context, onOpen func(), fn func(realtime.ChangeEvent) error) error

// syncer keeps one adapter's local data reconciled with the server. Events
// are applied optimistically; each also schedules a debounced re-fetch, and
// concurrent re-fetches collapse into one.
type syncer struct {
	name   string
	fetch  func(ctx context.Context) error
	apply  func(ev realtime.ChangeEvent)
	stream streamFunc
	opts   Options

	seen *lru.Cache
	sf   singleflight.Group

	mu       sync.Mutex
	timer    *time.Timer
	runCtx   context.Context
	stale    bool
	onChange []func()
}

func newSyncer(name string, fetch func(context.Context) error, apply func(realtime.ChangeEvent), stream streamFunc, opts Options) *syncer {
	opts = opts.withDefaults()
	seen, _ := lru.New(opts.SeenEvents)
	return &syncer{name: name, fetch: fetch, apply: apply, stream: stream, opts: opts,
		seen: seen, runCtx: context.Background()}
}

// Refresh re-reads the authoritative state and clears the stale flag.
func (s *syncer) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		return nil, s.fetch(ctx)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stale = false
	s.mu.Unlock()
	s.notify()
	return nil
}

// Stale reports whether the adapter gave up on the stream.
func (s *syncer) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// OnChange registers fn to run after every local change.
func (s *syncer) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Run fetches, subscribes and reconciles until ctx is done. When the stream
// closes it polls every PollInterval, trying to resubscribe on each tick;
// after PollWindow without a stream it marks the adapter stale and returns
// ErrStale.
func (s *syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	defer s.stopTimer()

	if err := s.Refresh(ctx); err != nil {
		s.opts.Log.Warn("initial fetch failed", "adapter", s.name, "err", err)
	}
	for {
		s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.poll(ctx) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.mu.Lock()
			s.stale = true
			s.mu.Unlock()
			s.opts.Log.Warn("stream unavailable, giving up", "adapter", s.name, "window", s.opts.PollWindow)
			s.notify()
			return ErrStale
		}
	}
}

// subscribe runs one stream connection and reports whether it was opened.
func (s *syncer) subscribe(ctx context.Context) bool {
	opened := false
	err := s.stream(ctx, func() {
		opened = true
		// events may have been missed while disconnected
		s.schedule()
	}, s.handle)
	if ctx.Err() == nil {
		s.opts.Log.Info("stream closed", "adapter", s.name, "opened", opened, "err", err)
	}
	return opened
}

// poll re-fetches on every tick and tries to resubscribe. It returns true
// once a resubscription was accepted and has since closed, and false when
// the window ran out or ctx ended.
func (s *syncer) poll(ctx context.Context) bool {
	deadline := time.Now().Add(s.opts.PollWindow)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if err := s.Refresh(ctx); err != nil {
			s.opts.Log.Debug("poll failed", "adapter", s.name, "err", err)
		}
		if s.subscribe(ctx) {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
	}
}

// handle applies one event. Duplicates are dropped by id.
func (s *syncer) handle(ev realtime.ChangeEvent) error {
	if ev.ID != "" {
		if seen, _ := s.seen.ContainsOrAdd(ev.ID, struct{}{}); seen {
			return nil
		}
	}
	s.apply(ev)
	s.notify()
	s.schedule()
	return nil
}

// schedule (re)arms the debounced re-fetch.
func (s *syncer) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	ctx := s.runCtx
	s.timer = time.AfterFunc(s.opts.Debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.Refresh(ctx); err != nil {
			s.opts.Log.Warn("reconcile fetch failed", "adapter", s.name, "err", err)
		}
	})
}

func (s *syncer) stopTimer() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func (s *syncer) notify() {
	s.mu.Lock()
	fns := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
