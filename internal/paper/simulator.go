// Package paper provides the simulated execution path: an Adapter that
// delegates reads to the live venue while routing writes into a Simulator
// that fills orders against the last synced books.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// FillRecord is the audit entry for one simulated order attempt.
type FillRecord struct {
	OrderID       string          `json:"order_id"`
	TokenID       string          `json:"token_id"`
	Side          types.Side      `json:"side"`
	OrderType     types.OrderType `json:"order_type"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	RequestedSize decimal.Decimal `json:"requested_size"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	FillPrice     decimal.Decimal `json:"fill_price"` // VWAP after slippage
	Success       bool            `json:"success"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Simulator fills orders against synced book snapshots. Fills are
// reproducible: whether an attempt fills at all comes from a stable hash of
// the order parameters and a monotonic attempt counter, gated by the
// configured fill probability.
type Simulator struct {
	fillProbability float64
	slipBuy         decimal.Decimal // multiplier applied to BUY fills
	slipSell        decimal.Decimal // multiplier applied to SELL fills
	clock           types.Clock
	logger          *slog.Logger

	mu      sync.Mutex
	books   map[string]*types.OrderBook
	fills   []FillRecord
	open    map[string]bool // resting GTC order IDs
	counter uint64
}

func NewSimulator(cfg config.PaperConfig, clock types.Clock, logger *slog.Logger) *Simulator {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	bps := decimal.NewFromInt(int64(cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	return &Simulator{
		fillProbability: cfg.FillProbability,
		slipBuy:         decimal.NewFromInt(1).Add(bps),
		slipSell:        decimal.NewFromInt(1).Sub(bps),
		clock:           clock,
		logger:          logger.With("component", "paper"),
		books:           make(map[string]*types.OrderBook),
		open:            make(map[string]bool),
	}
}

// SyncBook replaces the stored snapshot for the book's token.
func (s *Simulator) SyncBook(book *types.OrderBook) {
	if book == nil || book.TokenID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.TokenID] = copyBook(book)
}

// Book returns a copy of the stored snapshot, or nil when the token has
// never been synced.
func (s *Simulator) Book(tokenID string) *types.OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[tokenID]
	if !ok {
		return nil
	}
	return copyBook(b)
}

// Fills returns a copy of every simulated attempt so far.
func (s *Simulator) Fills() []FillRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FillRecord, len(s.fills))
	copy(out, s.fills)
	return out
}

// PlaceOrder simulates a limit order. FOK fills entirely within the limit or
// fails; GTC/GTD fill what crosses and rest the remainder.
func (s *Simulator) PlaceOrder(_ context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	return s.attempt(req.TokenID, req.Side, req.Price, req.Size, req.OrderType), nil
}

// PlaceMarketOrder simulates an immediate order bounded at WorstPrice.
// Marketable orders are fill-or-kill: anything short of full size fails.
func (s *Simulator) PlaceMarketOrder(_ context.Context, req types.MarketOrderRequest) (*types.OrderResponse, error) {
	return s.attempt(req.TokenID, req.Side, req.WorstPrice, req.Size, types.OrderTypeFOK), nil
}

func (s *Simulator) CancelOrder(_ context.Context, orderID string) (*types.CancelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := &types.CancelResponse{}
	if s.open[orderID] {
		delete(s.open, orderID)
		resp.Canceled = []string{orderID}
	} else {
		resp.NotCanceled = map[string]string{orderID: "not found"}
	}
	return resp, nil
}

func (s *Simulator) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	resp := &types.CancelResponse{}
	for _, id := range orderIDs {
		r, _ := s.CancelOrder(ctx, id)
		resp.Canceled = append(resp.Canceled, r.Canceled...)
		for k, v := range r.NotCanceled {
			if resp.NotCanceled == nil {
				resp.NotCanceled = make(map[string]string)
			}
			resp.NotCanceled[k] = v
		}
	}
	return resp, nil
}

func (s *Simulator) CancelAll(_ context.Context) (*types.CancelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := &types.CancelResponse{}
	for id := range s.open {
		resp.Canceled = append(resp.Canceled, id)
	}
	s.open = make(map[string]bool)
	return resp, nil
}

// attempt runs the whole fill pipeline under one lock: the probability gate,
// the book walk, slippage, and the audit record.
func (s *Simulator) attempt(tokenID string, side types.Side, limit, size decimal.Decimal, orderType types.OrderType) *types.OrderResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	rec := FillRecord{
		OrderID:       fmt.Sprintf("sim-%d", s.counter),
		TokenID:       tokenID,
		Side:          side,
		OrderType:     orderType,
		LimitPrice:    limit,
		RequestedSize: size,
		FilledSize:    decimal.Zero,
		FillPrice:     decimal.Zero,
		Timestamp:     s.clock.Now(),
	}

	if !s.gate(tokenID, side, limit, size, s.counter) {
		rec.Reason = "simulated no-fill"
		s.record(rec)
		return &types.OrderResponse{OrderID: rec.OrderID, ErrorMsg: rec.Reason}
	}

	filled, vwap := s.walk(tokenID, side, limit, size)
	switch {
	case orderType == types.OrderTypeFOK && filled.LessThan(size):
		rec.Reason = "insufficient depth within limit"
		s.record(rec)
		return &types.OrderResponse{OrderID: rec.OrderID, ErrorMsg: rec.Reason, Status: "killed"}
	case filled.IsZero():
		// nothing crossed; the order rests
		rec.Success = true
		rec.Reason = "resting"
		s.open[rec.OrderID] = true
		s.record(rec)
		return &types.OrderResponse{Success: true, OrderID: rec.OrderID, Status: "live"}
	}

	if side == types.BUY {
		vwap = vwap.Mul(s.slipBuy)
	} else {
		vwap = vwap.Mul(s.slipSell)
	}

	rec.Success = true
	rec.FilledSize = filled
	rec.FillPrice = vwap
	if filled.LessThan(size) {
		rec.Reason = "partial fill"
		s.open[rec.OrderID] = true
	}
	s.record(rec)

	status := "matched"
	if filled.LessThan(size) {
		status = "live"
	}
	return &types.OrderResponse{Success: true, OrderID: rec.OrderID, Status: status}
}

// gate decides whether this attempt fills at all. The hash makes runs
// reproducible for identical order streams.
func (s *Simulator) gate(tokenID string, side types.Side, price, size decimal.Decimal, n uint64) bool {
	if s.fillProbability >= 1 {
		return true
	}
	if s.fillProbability <= 0 {
		return false
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", tokenID, side, price, size, n)
	v := float64(h.Sum64()%10000) / 10000
	return v < s.fillProbability
}

// walk consumes the opposite side of the book inside the limit: asks
// ascending for BUY, bids descending for SELL. Returns filled size and raw
// VWAP (before slippage). Caller holds s.mu.
func (s *Simulator) walk(tokenID string, side types.Side, limit, size decimal.Decimal) (filled, vwap decimal.Decimal) {
	filled, vwap = decimal.Zero, decimal.Zero
	book, ok := s.books[tokenID]
	if !ok {
		return filled, vwap
	}

	levels := book.Asks
	inLimit := func(p decimal.Decimal) bool { return p.LessThanOrEqual(limit) }
	if side == types.SELL {
		levels = book.Bids
		inLimit = func(p decimal.Decimal) bool { return p.GreaterThanOrEqual(limit) }
	}

	notional := decimal.Zero
	remaining := size
	for _, lvl := range levels {
		if remaining.IsZero() || !inLimit(lvl.Price) {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		notional = notional.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	if filled.IsPositive() {
		vwap = notional.Div(filled)
	}
	return filled, vwap
}

func (s *Simulator) record(rec FillRecord) {
	s.fills = append(s.fills, rec)
	s.logger.Debug("simulated order",
		"order_id", rec.OrderID, "token_id", rec.TokenID, "side", rec.Side,
		"filled", rec.FilledSize, "of", rec.RequestedSize, "success", rec.Success,
		"reason", rec.Reason)
}

func copyBook(b *types.OrderBook) *types.OrderBook {
	out := &types.OrderBook{
		TokenID:   b.TokenID,
		Bids:      make([]types.BookLevel, len(b.Bids)),
		Asks:      make([]types.BookLevel, len(b.Asks)),
		Timestamp: b.Timestamp,
	}
	copy(out.Bids, b.Bids)
	copy(out.Asks, b.Asks)
	return out
}
