// params.go caches the per-token parameters an order signature depends on.
//
// Tick size, neg-risk flag, and fee rate change rarely but cost three round
// trips to fetch. The cache serves them from memory with a TTL; concurrent
// misses for the same token are serialized by a per-token lock so the venue
// sees one fetch, not N.
package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polyarb/pkg/types"
)

// MarketParams is the per-token record needed to sign an order.
type MarketParams struct {
	TokenID    string
	TickSize   types.TickSize
	NegRisk    bool
	FeeRateBps int
	FetchedAt  time.Time
}

// ParamsFetcher is the slice of the client the cache needs.
type ParamsFetcher interface {
	GetTickSize(ctx context.Context, tokenID string) (types.TickSize, error)
	GetNegRisk(ctx context.Context, tokenID string) (bool, error)
	GetFeeRateBps(ctx context.Context, tokenID string) (int, error)
}

// ParamsCache is a TTL cache over ParamsFetcher. The outer mutex guards both
// the entry map and the per-token lock map; per-token locks serialize slow
// fetches for the same token.
type ParamsCache struct {
	fetcher ParamsFetcher
	ttl     time.Duration
	clock   types.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*MarketParams
	locks map[string]*sync.Mutex
}

// NewParamsCache creates a cache with the given TTL. A nil clock means wall
// clock.
func NewParamsCache(fetcher ParamsFetcher, ttl time.Duration, clock types.Clock, logger *slog.Logger) *ParamsCache {
	if clock == nil {
		clock = types.RealClock()
	}
	return &ParamsCache{
		fetcher: fetcher,
		ttl:     ttl,
		clock:   clock,
		logger:  logger.With("component", "params_cache"),
		cache:   make(map[string]*MarketParams),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get returns the token's params, fetching on miss or staleness. force skips
// the fast path and always refetches.
func (pc *ParamsCache) Get(ctx context.Context, tokenID string, force bool) (*MarketParams, error) {
	if !force {
		if p, ok := pc.lookup(tokenID); ok {
			return p, nil
		}
	}

	lock := pc.tokenLock(tokenID)
	lock.Lock()
	defer lock.Unlock()

	// Double-check: another goroutine may have filled the entry while we
	// waited for the lock.
	if !force {
		if p, ok := pc.lookup(tokenID); ok {
			return p, nil
		}
	}

	p, err := pc.fetch(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	pc.cache[tokenID] = p
	pc.mu.Unlock()

	pc.logger.Debug("market params cached",
		"token_id", tokenID,
		"tick_size", p.TickSize,
		"neg_risk", p.NegRisk,
		"fee_rate_bps", p.FeeRateBps)
	return p, nil
}

// Warm fetches params for all tokens in parallel. Failures are logged; a
// token that fails to warm will fetch on first Get.
func (pc *ParamsCache) Warm(ctx context.Context, tokenIDs []string) {
	var wg sync.WaitGroup
	for _, id := range tokenIDs {
		wg.Add(1)
		go func(tokenID string) {
			defer wg.Done()
			if _, err := pc.Get(ctx, tokenID, false); err != nil {
				pc.logger.Warn("params warm failed", "token_id", tokenID, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// Invalidate drops the token's entry.
func (pc *ParamsCache) Invalidate(tokenID string) {
	pc.mu.Lock()
	delete(pc.cache, tokenID)
	pc.mu.Unlock()
}

// Len returns the number of cached entries.
func (pc *ParamsCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.cache)
}

// lookup is the fast path: entry present and not stale.
func (pc *ParamsCache) lookup(tokenID string) (*MarketParams, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	p, ok := pc.cache[tokenID]
	if !ok {
		return nil, false
	}
	if pc.clock.Now().Sub(p.FetchedAt) > pc.ttl {
		return nil, false
	}
	return p, true
}

func (pc *ParamsCache) tokenLock(tokenID string) *sync.Mutex {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	lock, ok := pc.locks[tokenID]
	if !ok {
		lock = &sync.Mutex{}
		pc.locks[tokenID] = lock
	}
	return lock
}

// fetch retrieves the three fields concurrently.
func (pc *ParamsCache) fetch(ctx context.Context, tokenID string) (*MarketParams, error) {
	var (
		wg      sync.WaitGroup
		tick    types.TickSize
		negRisk bool
		feeBps  int

		tickErr, negErr, feeErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		tick, tickErr = pc.fetcher.GetTickSize(ctx, tokenID)
	}()
	go func() {
		defer wg.Done()
		negRisk, negErr = pc.fetcher.GetNegRisk(ctx, tokenID)
	}()
	go func() {
		defer wg.Done()
		feeBps, feeErr = pc.fetcher.GetFeeRateBps(ctx, tokenID)
	}()
	wg.Wait()

	for _, err := range []error{tickErr, negErr, feeErr} {
		if err != nil {
			return nil, err
		}
	}

	return &MarketParams{
		TokenID:    tokenID,
		TickSize:   tick,
		NegRisk:    negRisk,
		FeeRateBps: feeBps,
		FetchedAt:  pc.clock.Now(),
	}, nil
}
