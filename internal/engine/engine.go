// Package engine turns feed events into orders.
//
// The engine owns no goroutines. Feeds drive it through OnFeedEvent, and
// each DATA_RELEASED event becomes one turn under a dedicated mutex, so a
// burst of releases is processed one event at a time in arrival order. A
// turn walks the pipeline:
//
//  1. Matcher links the event to tracked opportunities.
//  2. Prioritizer ranks the matches and drops cooled-down conditions.
//  3. Evaluator derives fair value and a directional signal.
//  4. The risk monitor vets market quality for that direction.
//  5. Sizer converts the signal into a concrete order.
//  6. The risk gates give the final verdict on the order.
//  7. The adapter places it, pre-signed when the pool holds an exact fit.
//
// Every stage boundary emits a typed ArbEvent so alerting and metrics see
// the full decision trail without reaching into engine internals.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/exchange"
	"polyarb/internal/risk"
	"polyarb/internal/strategy"
	"polyarb/pkg/types"
)

// OpportunitySource supplies the current tracked opportunity set. The
// market scanner is the production source.
type OpportunitySource interface {
	Opportunities() []*types.Opportunity
}

// SignedOrderPoster posts an already-signed order, skipping the signing
// step on the hot path. *exchange.Client implements it.
type SignedOrderPoster interface {
	PostSignedOrder(ctx context.Context, signed *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error)
}

// Stats counts pipeline outcomes since the engine was created. Counters
// only ever increase; Stop does not reset them.
type Stats struct {
	SignalsGenerated int `json:"signals_generated"`
	TradesExecuted   int `json:"trades_executed"`
	TradesFailed     int `json:"trades_failed"`
	TradesSkipped    int `json:"trades_skipped"`
	RiskRejected     int `json:"risk_rejected"`
}

// Engine wires strategy, risk and execution behind a single feed callback.
type Engine struct {
	client exchange.Adapter
	opps   OpportunitySource
	risk   *risk.Monitor
	clock  types.Clock
	logger *slog.Logger

	matcher     *strategy.Matcher
	prioritizer *strategy.Prioritizer
	evaluator   *strategy.Evaluator
	sizer       *strategy.Sizer

	pool   *exchange.Pool
	poster SignedOrderPoster

	// turnMu serializes turns: at most one feed event is in flight.
	turnMu sync.Mutex

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	stats     Stats
	callbacks []types.ArbCallback
}

// New builds an engine around the given adapter, opportunity source and
// risk monitor. A nil clock means wall clock; a nil logger means
// slog.Default().
func New(cfg config.StrategyConfig, client exchange.Adapter, opps OpportunitySource, riskMon *risk.Monitor, clock types.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:      client,
		opps:        opps,
		risk:        riskMon,
		clock:       clock,
		logger:      logger.With("component", "engine"),
		matcher:     strategy.NewMatcher(cfg, clock, logger),
		prioritizer: strategy.NewPrioritizer(cfg, clock, logger),
		evaluator:   strategy.NewEvaluator(cfg, clock, logger),
		sizer:       strategy.NewSizer(cfg, clock, logger),
	}
}

// UsePresignPool arms the pre-signed fast path. Execution pops an entry at
// the exact token, side and price it is about to send and posts it without
// signing; anything else falls through to live signing. Call before Start.
func (e *Engine) UsePresignPool(pool *exchange.Pool, poster SignedOrderPoster) {
	e.pool = pool
	e.poster = poster
}

// OnEvent registers a callback invoked synchronously for every pipeline
// event, in registration order. Callback errors are logged, not propagated.
func (e *Engine) OnEvent(cb types.ArbCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Start marks the engine running and announces it. Turns begin once feeds
// deliver events to OnFeedEvent.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.logger.Info("engine started")
	e.emit(types.ArbEvent{Type: types.ArbEngineStarted, Timestamp: e.clock.Now()})
	return nil
}

// Stop rejects further events, cancels the turn in flight and waits for it
// to drain before announcing the stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.turnMu.Lock()
	e.logger.Info("engine stopped")
	e.turnMu.Unlock()

	e.emit(types.ArbEvent{Type: types.ArbEngineStopped, Timestamp: e.clock.Now()})
}

// Stats returns a copy of the pipeline counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// OnFeedEvent is the types.FeedCallback the feed runner drives. Events
// arriving while stopped and events other than data releases are ignored.
func (e *Engine) OnFeedEvent(event types.FeedEvent) error {
	e.mu.Lock()
	running, ctx := e.running, e.ctx
	e.mu.Unlock()
	if !running || event.EventType != types.FeedDataReleased {
		return nil
	}
	e.ProcessEvent(ctx, event)
	return nil
}

// ProcessEvent runs one full turn for a data release and returns the
// execution results, one per order attempted. Turns are serialized; a
// second event blocks until the first finishes.
func (e *Engine) ProcessEvent(ctx context.Context, event types.FeedEvent) []types.ExecutionResult {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	opps := e.opps.Opportunities()
	matches := e.matcher.Match(event, opps)
	if len(matches) == 0 {
		e.logger.Debug("no matches", "indicator", event.Indicator, "opportunities", len(opps))
		return nil
	}
	for i := range matches {
		e.emit(types.ArbEvent{
			Type:      types.ArbMatchFound,
			Timestamp: e.clock.Now(),
			FeedEvent: &event,
			Match:     &matches[i],
			Detail:    matches[i].Reason,
		})
	}

	ranked := e.prioritizer.Prioritize(matches)

	var results []types.ExecutionResult
	for i := range ranked {
		if res := e.processMatch(ctx, ranked[i]); res != nil {
			results = append(results, *res)
		}
	}

	e.logger.Info("turn complete",
		"indicator", event.Indicator,
		"matches", len(matches),
		"ranked", len(ranked),
		"orders", len(results))
	return results
}

// processMatch takes one ranked match through signal, risk and execution.
// A nil return means no order went out.
func (e *Engine) processMatch(ctx context.Context, match types.MatchResult) *types.ExecutionResult {
	signal := e.evaluator.Evaluate(match)
	if signal == nil {
		e.skip(&match, nil, "no tradable signal")
		return nil
	}
	e.mu.Lock()
	e.stats.SignalsGenerated++
	e.mu.Unlock()
	e.emit(types.ArbEvent{
		Type:      types.ArbSignalGenerated,
		Timestamp: e.clock.Now(),
		Match:     &match,
		Signal:    signal,
		Detail:    fmt.Sprintf("%s edge %s at %s", signal.Direction, signal.Edge, signal.CurrentPrice),
	})

	if v := e.risk.CheckOpportunity(match.Opportunity, signal.Direction); !v.Approved {
		e.skip(&match, signal, fmt.Sprintf("%s: %s", v.Reason, v.Detail))
		return nil
	}

	action := e.sizer.Size(signal)
	if action == nil {
		e.skip(&match, signal, "sized to zero")
		return nil
	}

	if v := e.risk.CheckTrade(action); !v.Approved {
		e.mu.Lock()
		e.stats.RiskRejected++
		e.mu.Unlock()
		e.emit(types.ArbEvent{
			Type:      types.ArbRiskRejected,
			Timestamp: e.clock.Now(),
			Match:     &match,
			Signal:    signal,
			Action:    action,
			Detail:    fmt.Sprintf("%s: %s", v.Reason, v.Detail),
		})
		return nil
	}

	result := e.execute(ctx, action)
	e.risk.RecordFill(&result)
	e.prioritizer.RecordTrade(action.ConditionID())

	e.mu.Lock()
	if result.Success {
		e.stats.TradesExecuted++
	} else {
		e.stats.TradesFailed++
	}
	e.mu.Unlock()

	if result.Success {
		e.logger.Info("trade executed",
			"token_id", action.TokenID,
			"side", action.Side,
			"price", action.Price,
			"size", action.Size,
			"order_id", result.OrderID)
		e.emit(types.ArbEvent{
			Type:      types.ArbTradeExecuted,
			Timestamp: e.clock.Now(),
			Match:     &match,
			Signal:    signal,
			Action:    action,
			Result:    &result,
		})
	} else {
		e.logger.Warn("trade failed",
			"token_id", action.TokenID,
			"side", action.Side,
			"error", result.Error)
		e.emit(types.ArbEvent{
			Type:      types.ArbTradeFailed,
			Timestamp: e.clock.Now(),
			Match:     &match,
			Signal:    signal,
			Action:    action,
			Result:    &result,
			Detail:    result.Error,
		})
	}
	return &result
}

func (e *Engine) skip(match *types.MatchResult, signal *types.Signal, detail string) {
	e.mu.Lock()
	e.stats.TradesSkipped++
	e.mu.Unlock()
	e.emit(types.ArbEvent{
		Type:      types.ArbTradeSkipped,
		Timestamp: e.clock.Now(),
		Match:     match,
		Signal:    signal,
		Detail:    detail,
	})
	e.logger.Debug("trade skipped", "condition_id", match.Opportunity.ConditionID, "detail", detail)
}

// execute places the order and folds venue responses and transport errors
// into one ExecutionResult. Fill price and size default to the requested
// values on success; the venue reports true fills asynchronously.
func (e *Engine) execute(ctx context.Context, action *types.TradeAction) types.ExecutionResult {
	resp, err := e.placeAction(ctx, action)
	e.risk.RecordAPIResult(err == nil)

	result := types.ExecutionResult{
		Action:     *action,
		ExecutedAt: e.clock.Now(),
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = resp.Success
	result.OrderID = resp.OrderID
	switch {
	case resp.Success:
		result.FillPrice = action.Price
		result.FillSize = action.Size
	case resp.ErrorMsg != "":
		result.Error = resp.ErrorMsg
	default:
		result.Error = "order rejected"
	}
	return result
}

// placeAction routes the order. FOK goes out as a market order bounded at
// the slippage-padded worst price; everything else is a plain limit. When
// the pool holds a pre-signed order at the exact price about to be sent,
// posting skips the signing step.
func (e *Engine) placeAction(ctx context.Context, action *types.TradeAction) (*types.OrderResponse, error) {
	m := action.Signal.Match.Opportunity.Market

	if action.OrderType == types.OrderTypeFOK {
		worst := worstPrice(action)
		if pre := e.takePresigned(action, worst); pre != nil {
			e.logger.Debug("posting pre-signed order", "token_id", action.TokenID, "age", pre.Age(e.clock.Now()))
			return e.poster.PostSignedOrder(ctx, pre.Signed, pre.OrderType)
		}
		return e.client.PlaceMarketOrder(ctx, types.MarketOrderRequest{
			TokenID:    action.TokenID,
			Side:       action.Side,
			WorstPrice: worst,
			Size:       action.Size,
			TickSize:   m.TickSize,
			NegRisk:    m.NegRisk,
			FeeRateBps: m.FeeRateBps,
		})
	}

	if pre := e.takePresigned(action, action.Price); pre != nil {
		e.logger.Debug("posting pre-signed order", "token_id", action.TokenID, "age", pre.Age(e.clock.Now()))
		return e.poster.PostSignedOrder(ctx, pre.Signed, pre.OrderType)
	}
	return e.client.PlaceOrder(ctx, types.OrderRequest{
		TokenID:    action.TokenID,
		Price:      action.Price,
		Size:       action.Size,
		Side:       action.Side,
		OrderType:  action.OrderType,
		TickSize:   m.TickSize,
		NegRisk:    m.NegRisk,
		FeeRateBps: m.FeeRateBps,
	})
}

// takePresigned pops a pooled order matching the action exactly. A near
// miss on size or order type goes back into the pool and the caller signs
// live instead.
func (e *Engine) takePresigned(action *types.TradeAction, price decimal.Decimal) *exchange.PreSignedOrder {
	if e.pool == nil || e.poster == nil {
		return nil
	}
	pre := e.pool.Pop(action.TokenID, action.Side, price)
	if pre == nil {
		return nil
	}
	if !pre.Request.Size.Equal(action.Size) || pre.OrderType != action.OrderType {
		e.pool.Put(pre)
		return nil
	}
	return pre
}

// worstPrice pads the action price by the slippage allowance. Buys pay up,
// sells give way.
func worstPrice(action *types.TradeAction) decimal.Decimal {
	if action.Side == types.BUY {
		return action.Price.Add(action.MaxSlippage)
	}
	return action.Price.Sub(action.MaxSlippage)
}

func (e *Engine) emit(ev types.ArbEvent) {
	e.mu.Lock()
	cbs := make([]types.ArbCallback, len(e.callbacks))
	copy(cbs, e.callbacks)
	e.mu.Unlock()
	for _, cb := range cbs {
		if err := cb(ev); err != nil {
			e.logger.Error("arb callback failed", "type", ev.Type, "error", err)
		}
	}
}
