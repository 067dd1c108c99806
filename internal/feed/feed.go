// Package feed produces the unified FeedEvent stream that drives the engine.
//
// Three heterogeneous sources (economic releases, sports finals, crypto price
// moves) share one runtime: Runner owns the poll loop, callback dispatch,
// error counting, and lifecycle events, while each Source supplies connect,
// poll, and close. Pure parsing lives in the sources so it can be tested
// against captured payloads without a transport.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polyarb/pkg/types"
)

// Feed is the surface consumed by wiring code and the engine.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	OnEvent(cb types.FeedCallback)
	Running() bool
	ErrorCount() int
	LastPollTime() time.Time
	FeedType() types.FeedType
}

// Source is the per-feed behavior a Runner drives.
type Source interface {
	FeedType() types.FeedType
	Connect(ctx context.Context) error
	Poll(ctx context.Context) ([]types.FeedEvent, error)
	Close() error
}

// Runner implements Feed around a Source: connect on Start, poll on an
// interval, dispatch events to callbacks in registration order, count errors
// without terminating.
type Runner struct {
	src      Source
	interval time.Duration
	clock    types.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	running      bool
	errorCount   int
	lastPollTime time.Time
	callbacks    []types.FeedCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wraps a source in the shared feed runtime. A nil clock means
// wall clock.
func NewRunner(src Source, interval time.Duration, clock types.Clock, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Runner{
		src:      src,
		interval: interval,
		clock:    clock,
		logger:   logger.With("component", "feed", "feed_type", src.FeedType()),
	}
}

// FeedType returns the source's type.
func (r *Runner) FeedType() types.FeedType { return r.src.FeedType() }

// OnEvent registers a callback. Registration happens at wiring time, before
// Start.
func (r *Runner) OnEvent(cb types.FeedCallback) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()
}

// Running reports whether the poll loop is live.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ErrorCount returns the number of poll failures since Start.
func (r *Runner) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCount
}

// LastPollTime returns when the last poll attempt finished.
func (r *Runner) LastPollTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPollTime
}

// Start connects the source and launches the poll loop. Returns the connect
// error without starting the loop on failure.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	if err := r.src.Connect(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}

	r.dispatch(r.lifecycleEvent(types.FeedConnected))

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(loopCtx)

	r.logger.Info("feed started", "poll_interval", r.interval)
	return nil
}

// Stop halts the loop, closes the source, and emits FEED_DISCONNECTED.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	if err := r.src.Close(); err != nil {
		r.logger.Warn("feed close failed", "error", err)
	}
	r.dispatch(r.lifecycleEvent(types.FeedDisconnected))
	r.logger.Info("feed stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	// Immediate first poll seeds baselines and caches before the first tick.
	r.pollOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	events, err := r.src.Poll(ctx)

	r.mu.Lock()
	r.lastPollTime = r.clock.Now()
	if err != nil {
		r.errorCount++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("poll failed", "error", err)
		r.dispatch(r.lifecycleEvent(types.FeedErrored))
		return
	}

	for _, ev := range events {
		r.dispatch(ev)
	}
}

// dispatch fans an event out to all callbacks sequentially. Callback errors
// are logged and never reach the loop.
func (r *Runner) dispatch(ev types.FeedEvent) {
	r.mu.Lock()
	callbacks := make([]types.FeedCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(ev); err != nil {
			r.logger.Error("feed callback failed",
				"event_type", ev.EventType,
				"indicator", ev.Indicator,
				"error", err)
		}
	}
}

func (r *Runner) lifecycleEvent(t types.FeedEventType) types.FeedEvent {
	now := r.clock.Now()
	return types.FeedEvent{
		FeedType:   r.src.FeedType(),
		EventType:  t,
		ReleasedAt: now,
		ReceivedAt: now,
	}
}
