package paper

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/exchange"
	"polyarb/pkg/types"
)

const defaultRefreshInterval = 30 * time.Second

// Adapter satisfies exchange.Adapter with the live venue behind reads and
// the Simulator behind writes. Every book that passes through a read is
// synced into the simulator and marked tracked; a background loop re-fetches
// tracked books so simulated fills walk reasonably fresh depth.
type Adapter struct {
	real    exchange.Adapter
	sim     *Simulator
	refresh time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tracked map[string]struct{}
}

func NewAdapter(real exchange.Adapter, sim *Simulator, cfg config.PaperConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	refresh := cfg.OrderbookRefreshSecs
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &Adapter{
		real:    real,
		sim:     sim,
		refresh: refresh,
		logger:  logger.With("component", "paper"),
		tracked: make(map[string]struct{}),
	}
}

// Simulator exposes the write-side simulator (for fill inspection).
func (a *Adapter) Simulator() *Simulator { return a.sim }

// Connect connects the live client and starts the book refresh loop.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.real.Connect(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go a.refreshLoop(loopCtx)

	a.logger.Info("paper trading enabled: orders will not reach the venue",
		"refresh_interval", a.refresh)
	return nil
}

// Close stops the refresh loop and closes the live client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.running {
		a.running = false
		a.cancel()
	}
	a.mu.Unlock()

	a.wg.Wait()
	return a.real.Close()
}

// Reads delegate to the live venue; book reads feed the simulator.

func (a *Adapter) GetAllMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	return a.real.GetAllMarkets(ctx)
}

func (a *Adapter) GetMarket(ctx context.Context, conditionID string) (*types.MarketInfo, error) {
	return a.real.GetMarket(ctx, conditionID)
}

func (a *Adapter) GetOrderbook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	book, err := a.real.GetOrderbook(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	a.sim.SyncBook(book)
	a.track(tokenID)
	return book, nil
}

func (a *Adapter) GetOrderbooks(ctx context.Context, tokenIDs []string) (map[string]*types.OrderBook, error) {
	books, err := a.real.GetOrderbooks(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}
	for tokenID, book := range books {
		a.sim.SyncBook(book)
		a.track(tokenID)
	}
	return books, nil
}

func (a *Adapter) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return a.real.GetMidpoint(ctx, tokenID)
}

func (a *Adapter) GetSpread(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return a.real.GetSpread(ctx, tokenID)
}

// SubscribeOrderbook wraps the callback so streamed books also sync the
// simulator before reaching the subscriber.
func (a *Adapter) SubscribeOrderbook(tokenID string, cb exchange.BookCallback) error {
	a.track(tokenID)
	return a.real.SubscribeOrderbook(tokenID, func(book *types.OrderBook) {
		a.sim.SyncBook(book)
		cb(book)
	})
}

func (a *Adapter) UnsubscribeOrderbook(tokenID string) error {
	return a.real.UnsubscribeOrderbook(tokenID)
}

// Writes go entirely to the simulator.

func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	return a.sim.PlaceOrder(ctx, req)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, req types.MarketOrderRequest) (*types.OrderResponse, error) {
	return a.sim.PlaceMarketOrder(ctx, req)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	return a.sim.CancelOrder(ctx, orderID)
}

func (a *Adapter) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	return a.sim.CancelOrders(ctx, orderIDs)
}

func (a *Adapter) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	return a.sim.CancelAll(ctx)
}

func (a *Adapter) track(tokenID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracked[tokenID] = struct{}{}
}

func (a *Adapter) trackedTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.tracked))
	for id := range a.tracked {
		out = append(out, id)
	}
	return out
}

func (a *Adapter) refreshLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshOnce(ctx)
		}
	}
}

// refreshOnce re-fetches every tracked book and syncs the simulator so fills
// keep walking current depth.
func (a *Adapter) refreshOnce(ctx context.Context) {
	tokens := a.trackedTokens()
	if len(tokens) == 0 {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	books, err := a.real.GetOrderbooks(fetchCtx, tokens)
	if err != nil {
		a.logger.Warn("paper book refresh failed", "tokens", len(tokens), "error", err)
		return
	}
	for _, book := range books {
		a.sim.SyncBook(book)
	}
	a.logger.Debug("paper books refreshed", "count", len(books))
}
