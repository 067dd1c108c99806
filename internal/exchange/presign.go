// presign.go keeps signed-but-unposted orders ready for the hot path.
//
// EIP-712 signing is the slowest synchronous step before the network hop.
// The pre-signer runs it outside the engine's turn, and the pool keys the
// results by (token, side, price) so posting an order reduces to a map
// lookup plus an HTTP POST.
package exchange

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/pkg/types"
)

// OrderSigner is the signing dependency of the pre-signer.
type OrderSigner interface {
	SignOrder(req types.OrderRequest) (*types.SignedOrder, error)
}

// PreSignedOrder is a signed order blob plus everything needed to re-sign it.
type PreSignedOrder struct {
	Signed     *types.SignedOrder
	Request    types.OrderRequest
	Params     MarketParams // params snapshot used for signing
	CreatedAt  time.Time
	Expiration int64 // on-venue expiry, unix seconds; 0 = none
	OrderType  types.OrderType
}

// IsExpired reports whether the venue would already reject the order.
func (o *PreSignedOrder) IsExpired(now time.Time) bool {
	return o.Expiration > 0 && now.Unix() >= o.Expiration
}

// TimeUntilExpiry returns the remaining venue-side lifetime, 0 when the
// order has no expiry.
func (o *PreSignedOrder) TimeUntilExpiry(now time.Time) time.Duration {
	if o.Expiration == 0 {
		return 0
	}
	return time.Duration(o.Expiration-now.Unix()) * time.Second
}

// IsStale reports whether the order is too close to expiry to be worth
// posting. Orders without expiry are never stale.
func (o *PreSignedOrder) IsStale(now time.Time, threshold time.Duration) bool {
	if o.Expiration == 0 {
		return false
	}
	return o.TimeUntilExpiry(now) < threshold
}

// Age returns how long ago the order was signed.
func (o *PreSignedOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// PreSigner signs orders using cached market params and a fixed venue-side
// expiration window.
type PreSigner struct {
	signer         OrderSigner
	params         *ParamsCache
	expirationSecs int64
	clock          types.Clock
	logger         *slog.Logger
}

// NewPreSigner creates a pre-signer. expirationSecs = 0 disables venue-side
// expiry on signed orders.
func NewPreSigner(signer OrderSigner, params *ParamsCache, expirationSecs int64, clock types.Clock, logger *slog.Logger) *PreSigner {
	if clock == nil {
		clock = types.RealClock()
	}
	return &PreSigner{
		signer:         signer,
		params:         params,
		expirationSecs: expirationSecs,
		clock:          clock,
		logger:         logger.With("component", "presigner"),
	}
}

// Sign builds and signs an order for the token using cached params.
func (ps *PreSigner) Sign(ctx context.Context, tokenID string, side types.Side, price, size decimal.Decimal, orderType types.OrderType) (*PreSignedOrder, error) {
	p, err := ps.params.Get(ctx, tokenID, false)
	if err != nil {
		return nil, err
	}

	now := ps.clock.Now()
	var expiration int64
	if ps.expirationSecs > 0 {
		expiration = now.Unix() + ps.expirationSecs
	}

	req := types.OrderRequest{
		TokenID:    tokenID,
		Price:      price,
		Size:       size,
		Side:       side,
		OrderType:  orderType,
		TickSize:   p.TickSize,
		NegRisk:    p.NegRisk,
		Expiration: expiration,
		FeeRateBps: p.FeeRateBps,
	}
	signed, err := ps.signer.SignOrder(req)
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindOrder, Op: "pre-sign", Err: err}
	}

	return &PreSignedOrder{
		Signed:     signed,
		Request:    req,
		Params:     *p,
		CreatedAt:  now,
		Expiration: expiration,
		OrderType:  orderType,
	}, nil
}

// poolKey identifies one pre-signed order. Price is normalized so that
// equal decimals with different renderings collide.
type poolKey struct {
	TokenID string
	Side    types.Side
	Price   string
}

// normalizePrice renders a decimal without trailing fraction zeros.
func normalizePrice(d decimal.Decimal) string {
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// Pool holds pre-signed orders and keeps them fresh with a background
// refresh loop.
type Pool struct {
	signer          *PreSigner
	staleness       time.Duration
	refreshInterval time.Duration
	clock           types.Clock
	logger          *slog.Logger

	mu      sync.Mutex
	entries map[poolKey]*PreSignedOrder

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a pool. staleness is the minimum remaining lifetime for an
// entry to be served; refreshInterval drives the background re-sign loop.
func NewPool(signer *PreSigner, staleness, refreshInterval time.Duration, clock types.Clock, logger *slog.Logger) *Pool {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Pool{
		signer:          signer,
		staleness:       staleness,
		refreshInterval: refreshInterval,
		clock:           clock,
		logger:          logger.With("component", "presign_pool"),
		entries:         make(map[poolKey]*PreSignedOrder),
	}
}

// Start launches the refresh loop.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.refreshLoop(ctx)
	p.logger.Info("presign pool started", "refresh_interval", p.refreshInterval)
}

// Stop halts the refresh loop and waits for it to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Put inserts or replaces the entry for the order's key.
func (p *Pool) Put(order *PreSignedOrder) {
	key := poolKey{
		TokenID: order.Request.TokenID,
		Side:    order.Request.Side,
		Price:   normalizePrice(order.Request.Price),
	}
	p.mu.Lock()
	p.entries[key] = order
	p.mu.Unlock()
}

// PreSign signs an order and stores it in the pool.
func (p *Pool) PreSign(ctx context.Context, tokenID string, side types.Side, price, size decimal.Decimal, orderType types.OrderType) error {
	order, err := p.signer.Sign(ctx, tokenID, side, price, size, orderType)
	if err != nil {
		return err
	}
	p.Put(order)
	return nil
}

// Get returns the entry for (token, side, price) if it is neither expired
// nor stale. Expired entries are removed on observation.
func (p *Pool) Get(tokenID string, side types.Side, price decimal.Decimal) *PreSignedOrder {
	key := poolKey{TokenID: tokenID, Side: side, Price: normalizePrice(price)}
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usable(key, now, false)
}

// Pop is Get plus removal of the returned entry.
func (p *Pool) Pop(tokenID string, side types.Side, price decimal.Decimal) *PreSignedOrder {
	key := poolKey{TokenID: tokenID, Side: side, Price: normalizePrice(price)}
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usable(key, now, true)
}

// usable returns the entry at key if servable, removing expired entries and,
// when remove is set, the returned entry too. Caller holds p.mu.
func (p *Pool) usable(key poolKey, now time.Time, remove bool) *PreSignedOrder {
	entry, ok := p.entries[key]
	if !ok {
		return nil
	}
	if entry.IsExpired(now) {
		delete(p.entries, key)
		return nil
	}
	if entry.IsStale(now, p.staleness) {
		return nil
	}
	if remove {
		delete(p.entries, key)
	}
	return entry
}

// GetBest returns the best-priced servable entry for (token, side): the
// highest-price BUY or the lowest-price SELL.
func (p *Pool) GetBest(tokenID string, side types.Side) *PreSignedOrder {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var best *PreSignedOrder
	for key, entry := range p.entries {
		if key.TokenID != tokenID || key.Side != side {
			continue
		}
		if entry.IsExpired(now) {
			delete(p.entries, key)
			continue
		}
		if entry.IsStale(now, p.staleness) {
			continue
		}
		if best == nil {
			best = entry
			continue
		}
		if side == types.BUY && entry.Request.Price.GreaterThan(best.Request.Price) {
			best = entry
		} else if side == types.SELL && entry.Request.Price.LessThan(best.Request.Price) {
			best = entry
		}
	}
	return best
}

// Size returns the number of entries, including any not yet swept.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) refreshLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshOnce(ctx)
		}
	}
}

// refreshOnce sweeps expired entries, then re-signs entries that will go
// stale before the next tick. Errors leave the old entry in place for the
// next cycle.
func (p *Pool) refreshOnce(ctx context.Context) {
	now := p.clock.Now()
	window := p.staleness + p.refreshInterval

	p.mu.Lock()
	var refresh []*PreSignedOrder
	for key, entry := range p.entries {
		if entry.IsExpired(now) {
			delete(p.entries, key)
			continue
		}
		ttl := entry.TimeUntilExpiry(now)
		if ttl > 0 && ttl < window {
			refresh = append(refresh, entry)
		}
	}
	p.mu.Unlock()

	for _, entry := range refresh {
		req := entry.Request
		fresh, err := p.signer.Sign(ctx, req.TokenID, req.Side, req.Price, req.Size, entry.OrderType)
		if err != nil {
			p.logger.Warn("presign refresh failed",
				"token_id", req.TokenID,
				"side", req.Side,
				"price", req.Price,
				"error", err)
			continue
		}
		p.Put(fresh)
		p.logger.Debug("presigned order refreshed",
			"token_id", req.TokenID,
			"side", req.Side,
			"price", req.Price,
			"expiration", fresh.Expiration)
	}
}
