package paper

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/exchange"
	"polyarb/pkg/types"
)

// fakeVenue serves canned books and records write calls that should never
// arrive while paper trading.
type fakeVenue struct {
	mu          sync.Mutex
	books       map[string]*types.OrderBook
	subscribers map[string]exchange.BookCallback
	orderCalls  int
	bookFetches int
}

func newFakeVenue(books ...*types.OrderBook) *fakeVenue {
	f := &fakeVenue{
		books:       make(map[string]*types.OrderBook),
		subscribers: make(map[string]exchange.BookCallback),
	}
	for _, b := range books {
		f.books[b.TokenID] = b
	}
	return f
}

func (f *fakeVenue) setBook(b *types.OrderBook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[b.TokenID] = b
}

func (f *fakeVenue) push(tokenID string, b *types.OrderBook) {
	f.mu.Lock()
	cb := f.subscribers[tokenID]
	f.mu.Unlock()
	if cb != nil {
		cb(b)
	}
}

func (f *fakeVenue) Connect(context.Context) error { return nil }
func (f *fakeVenue) Close() error                  { return nil }

func (f *fakeVenue) GetAllMarkets(context.Context) ([]types.MarketInfo, error) {
	return nil, nil
}

func (f *fakeVenue) GetMarket(context.Context, string) (*types.MarketInfo, error) {
	return nil, nil
}

func (f *fakeVenue) GetOrderbook(_ context.Context, tokenID string) (*types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookFetches++
	return f.books[tokenID], nil
}

func (f *fakeVenue) GetOrderbooks(_ context.Context, tokenIDs []string) (map[string]*types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookFetches++
	out := make(map[string]*types.OrderBook)
	for _, id := range tokenIDs {
		if b, ok := f.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (f *fakeVenue) GetMidpoint(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeVenue) GetSpread(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeVenue) SubscribeOrderbook(tokenID string, cb exchange.BookCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[tokenID] = cb
	return nil
}

func (f *fakeVenue) UnsubscribeOrderbook(tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, tokenID)
	return nil
}

func (f *fakeVenue) PlaceOrder(context.Context, types.OrderRequest) (*types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return &types.OrderResponse{Success: true, OrderID: "live-venue"}, nil
}

func (f *fakeVenue) PlaceMarketOrder(context.Context, types.MarketOrderRequest) (*types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return &types.OrderResponse{Success: true, OrderID: "live-venue"}, nil
}

func (f *fakeVenue) CancelOrder(context.Context, string) (*types.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return &types.CancelResponse{}, nil
}

func (f *fakeVenue) CancelOrders(context.Context, []string) (*types.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return &types.CancelResponse{}, nil
}

func (f *fakeVenue) CancelAll(context.Context) (*types.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	return &types.CancelResponse{}, nil
}

func (f *fakeVenue) writeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderCalls
}

var _ exchange.Adapter = (*fakeVenue)(nil)
var _ exchange.Adapter = (*Adapter)(nil)

func testAdapter(t *testing.T, venue *fakeVenue) *Adapter {
	t.Helper()
	clock := types.NewSimClock()
	clock.Set(testNow)
	sim := NewSimulator(config.PaperConfig{FillProbability: 1}, clock, testLogger())
	return NewAdapter(venue, sim, config.PaperConfig{}, testLogger())
}

func TestAdapterBookReadSyncsSimulator(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue(twoLevelBook("tok"))
	a := testAdapter(t, venue)

	book, err := a.GetOrderbook(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if book == nil {
		t.Fatal("GetOrderbook returned nil book")
	}

	// the simulator can now fill against the fetched depth
	resp, err := a.PlaceOrder(context.Background(), fokBuy("tok", "0.50", "200"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !resp.Success {
		t.Errorf("order against synced book failed: %s", resp.ErrorMsg)
	}
	if got := venue.writeCalls(); got != 0 {
		t.Errorf("live venue received %d write calls, want 0", got)
	}
}

func TestAdapterGetOrderbooksSyncsAll(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue(twoLevelBook("tok-a"), twoLevelBook("tok-b"))
	a := testAdapter(t, venue)

	books, err := a.GetOrderbooks(context.Background(), []string{"tok-a", "tok-b"})
	if err != nil {
		t.Fatalf("GetOrderbooks: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("fetched %d books, want 2", len(books))
	}
	for _, id := range []string{"tok-a", "tok-b"} {
		if a.sim.Book(id) == nil {
			t.Errorf("simulator missing book %s after batch fetch", id)
		}
	}
}

func TestAdapterSubscriptionSyncsSimulator(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	a := testAdapter(t, venue)

	var received []*types.OrderBook
	err := a.SubscribeOrderbook("tok", func(b *types.OrderBook) {
		received = append(received, b)
	})
	if err != nil {
		t.Fatalf("SubscribeOrderbook: %v", err)
	}

	venue.push("tok", twoLevelBook("tok"))

	if len(received) != 1 {
		t.Fatalf("subscriber received %d books, want 1", len(received))
	}
	if a.sim.Book("tok") == nil {
		t.Error("simulator not synced from streamed book")
	}
}

func TestAdapterWritesNeverReachVenue(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue(twoLevelBook("tok"))
	a := testAdapter(t, venue)
	ctx := context.Background()

	a.GetOrderbook(ctx, "tok")
	a.PlaceOrder(ctx, fokBuy("tok", "0.50", "100"))
	a.PlaceMarketOrder(ctx, types.MarketOrderRequest{
		TokenID: "tok", Side: types.BUY, WorstPrice: dec("0.50"), Size: dec("100"),
	})
	a.CancelOrder(ctx, "sim-1")
	a.CancelOrders(ctx, []string{"sim-2"})
	a.CancelAll(ctx)

	if got := venue.writeCalls(); got != 0 {
		t.Errorf("live venue received %d write calls, want 0", got)
	}
	if got := len(a.sim.Fills()); got != 2 {
		t.Errorf("simulator recorded %d attempts, want 2", got)
	}
}

func TestAdapterRefreshResyncsTrackedBooks(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue(twoLevelBook("tok"))
	a := testAdapter(t, venue)
	ctx := context.Background()

	a.GetOrderbook(ctx, "tok")

	// depth moves on the venue; refresh must propagate it
	venue.setBook(&types.OrderBook{
		TokenID: "tok",
		Asks:    []types.BookLevel{level("0.42", "50")},
	})
	a.refreshOnce(ctx)

	book := a.sim.Book("tok")
	if book == nil || len(book.Asks) != 1 || !book.Asks[0].Price.Equal(dec("0.42")) {
		t.Errorf("simulator book not refreshed: %+v", book)
	}
}

func TestAdapterConnectCloseLifecycle(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue(twoLevelBook("tok"))
	a := testAdapter(t, venue)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
