package exchange

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/pkg/types"
)

// fakeSigner issues sequence-numbered signatures so re-signs are observable.
type fakeSigner struct {
	mu    sync.Mutex
	signs int
}

func (s *fakeSigner) SignOrder(req types.OrderRequest) (*types.SignedOrder, error) {
	s.mu.Lock()
	s.signs++
	n := s.signs
	s.mu.Unlock()
	return &types.SignedOrder{
		Salt:       strconv.Itoa(n),
		TokenID:    req.TokenID,
		Side:       req.Side,
		Expiration: strconv.FormatInt(req.Expiration, 10),
		Signature:  "0xsig" + strconv.Itoa(n),
	}, nil
}

func newTestPool(t *testing.T, clock types.Clock, expirationSecs int64, staleness, refresh time.Duration) (*Pool, *fakeSigner) {
	t.Helper()
	signer := &fakeSigner{}
	params := NewParamsCache(&fakeFetcher{}, time.Hour, clock, testLogger())
	ps := NewPreSigner(signer, params, expirationSecs, clock, testLogger())
	return NewPool(ps, staleness, refresh, clock, testLogger()), signer
}

func TestPreSignerSetsExpiration(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	signer := &fakeSigner{}
	params := NewParamsCache(&fakeFetcher{}, time.Hour, clock, testLogger())
	ps := NewPreSigner(signer, params, 120, clock, testLogger())

	order, err := ps.Sign(context.Background(), "tok1", types.BUY,
		decimal.RequireFromString("0.65"), decimal.RequireFromString("100"), types.OrderTypeFOK)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if order.Expiration != 1_700_000_120 {
		t.Errorf("expiration = %d, want now+120", order.Expiration)
	}
	if order.Signed.Expiration != "1700000120" {
		t.Errorf("signed expiration = %s, want 1700000120", order.Signed.Expiration)
	}
	if order.Params.TickSize != types.Tick001 {
		t.Errorf("params snapshot tick = %s, want 0.01", order.Params.TickSize)
	}
}

func TestPreSignerZeroExpirationDisables(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	signer := &fakeSigner{}
	params := NewParamsCache(&fakeFetcher{}, time.Hour, clock, testLogger())
	ps := NewPreSigner(signer, params, 0, clock, testLogger())

	order, err := ps.Sign(context.Background(), "tok1", types.SELL,
		decimal.RequireFromString("0.40"), decimal.RequireFromString("10"), types.OrderTypeGTC)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if order.Expiration != 0 {
		t.Errorf("expiration = %d, want 0", order.Expiration)
	}
	if order.IsExpired(clock.Now().Add(100 * time.Hour)) {
		t.Error("order without expiry reported expired")
	}
	if order.IsStale(clock.Now().Add(100*time.Hour), time.Minute) {
		t.Error("order without expiry reported stale")
	}
}

func TestPoolGetNeverReturnsExpired(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 60, 30*time.Second, 10*time.Second)

	price := decimal.RequireFromString("0.65")
	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, price, size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}

	if pool.Get("tok1", types.BUY, price) == nil {
		t.Fatal("fresh entry not returned")
	}

	// Past expiry the entry is removed on observation.
	clock.Advance(61 * time.Second)
	if pool.Get("tok1", types.BUY, price) != nil {
		t.Error("expired entry returned")
	}
	if pool.Size() != 0 {
		t.Errorf("pool size = %d, want 0 after expired observation", pool.Size())
	}
}

func TestPoolGetNeverReturnsStale(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 60, 30*time.Second, 10*time.Second)

	price := decimal.RequireFromString("0.65")
	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, price, size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}

	// 31s in: 29s until expiry, below the 30s staleness threshold. Entry is
	// withheld but retained for the refresh loop.
	clock.Advance(31 * time.Second)
	if pool.Get("tok1", types.BUY, price) != nil {
		t.Error("stale entry returned")
	}
	if pool.Size() != 1 {
		t.Errorf("pool size = %d, want 1 (stale entries kept)", pool.Size())
	}
}

func TestPoolPopRemoves(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 300, 30*time.Second, 10*time.Second)

	price := decimal.RequireFromString("0.65")
	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, price, size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}

	if pool.Pop("tok1", types.BUY, price) == nil {
		t.Fatal("Pop returned nil for fresh entry")
	}
	if pool.Pop("tok1", types.BUY, price) != nil {
		t.Error("second Pop returned an already-popped entry")
	}
}

func TestPoolKeyNormalizesPrice(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 300, 30*time.Second, 10*time.Second)

	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, decimal.RequireFromString("0.650"), size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}

	// "0.65" and "0.650" are the same key.
	if pool.Get("tok1", types.BUY, decimal.RequireFromString("0.65")) == nil {
		t.Error("lookup with equal price in different rendering missed")
	}
}

func TestPoolGetBest(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 300, 30*time.Second, 10*time.Second)

	size := decimal.RequireFromString("100")
	ctx := context.Background()
	for _, p := range []string{"0.60", "0.65", "0.62"} {
		if err := pool.PreSign(ctx, "tok1", types.BUY, decimal.RequireFromString(p), size, types.OrderTypeFOK); err != nil {
			t.Fatalf("PreSign: %v", err)
		}
	}
	for _, p := range []string{"0.70", "0.68", "0.72"} {
		if err := pool.PreSign(ctx, "tok1", types.SELL, decimal.RequireFromString(p), size, types.OrderTypeFOK); err != nil {
			t.Fatalf("PreSign: %v", err)
		}
	}

	buy := pool.GetBest("tok1", types.BUY)
	if buy == nil || !buy.Request.Price.Equal(decimal.RequireFromString("0.65")) {
		t.Errorf("best BUY = %v, want price 0.65", buy)
	}
	sell := pool.GetBest("tok1", types.SELL)
	if sell == nil || !sell.Request.Price.Equal(decimal.RequireFromString("0.68")) {
		t.Errorf("best SELL = %v, want price 0.68", sell)
	}
	if pool.GetBest("other", types.BUY) != nil {
		t.Error("GetBest matched a different token")
	}
}

func TestPoolRefreshResignsNearExpiry(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	// Orders live 41s: outside the 30s staleness window now, inside
	// staleness+refresh (40s) at the first tick.
	pool, signer := newTestPool(t, clock, 41, 30*time.Second, 10*time.Second)

	price := decimal.RequireFromString("0.65")
	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, price, size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}
	before := pool.Get("tok1", types.BUY, price)
	if before == nil {
		t.Fatal("entry missing before refresh")
	}

	clock.Advance(2 * time.Second)
	pool.refreshOnce(context.Background())

	after := pool.Get("tok1", types.BUY, price)
	if after == nil {
		t.Fatal("entry missing after refresh")
	}
	if after.Expiration <= before.Expiration {
		t.Errorf("expiration not extended: before %d, after %d", before.Expiration, after.Expiration)
	}
	if after.Signed.Salt == before.Signed.Salt {
		t.Error("entry was not re-signed")
	}

	signer.mu.Lock()
	signs := signer.signs
	signer.mu.Unlock()
	if signs != 2 {
		t.Errorf("signs = %d, want 2 (initial + refresh)", signs)
	}
}

func TestPoolRefreshSweepsExpired(t *testing.T) {
	t.Parallel()

	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pool, _ := newTestPool(t, clock, 60, 30*time.Second, 10*time.Second)

	price := decimal.RequireFromString("0.65")
	size := decimal.RequireFromString("100")
	if err := pool.PreSign(context.Background(), "tok1", types.BUY, price, size, types.OrderTypeFOK); err != nil {
		t.Fatalf("PreSign: %v", err)
	}

	clock.Advance(2 * time.Minute)
	pool.refreshOnce(context.Background())

	if pool.Size() != 0 {
		t.Errorf("pool size = %d, want 0 after sweep", pool.Size())
	}
}
