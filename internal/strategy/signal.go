package strategy

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// Post-release fair value for the winning outcome. The market resolves to $1,
// so 0.99 leaves a cent for resolution risk.
var fairValue = decimal.NewFromFloat(0.99)

// Evaluator turns a confirmed match into a directional signal against the
// opportunity's current book, or nothing when there is no tradable edge.
type Evaluator struct {
	cfg    config.StrategyConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewEvaluator builds a signal evaluator. A nil clock means wall clock.
func NewEvaluator(cfg config.StrategyConfig, clock types.Clock, logger *slog.Logger) *Evaluator {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Evaluator{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "signal"),
	}
}

// Evaluate returns a signal, or nil when the event is stale, the book offers
// no entry, or the edge is under the per-category floor. An event aged
// exactly at the staleness limit still passes.
func (e *Evaluator) Evaluate(match types.MatchResult) *types.Signal {
	now := e.clock.Now()
	if age := now.Sub(match.Event.ReceivedAt); age > e.cfg.MaxStaleness {
		e.logger.Debug("event too stale",
			"indicator", match.Event.Indicator,
			"age", age,
			"max", e.cfg.MaxStaleness)
		return nil
	}

	confidence := e.confidence(match.Event)
	opp := match.Opportunity

	var direction types.Side
	var price decimal.Decimal
	switch {
	case opp.BestAsk.Valid && fairValue.GreaterThan(opp.BestAsk.Decimal):
		direction = types.BUY
		price = opp.BestAsk.Decimal
	case opp.BestBid.Valid && fairValue.LessThan(opp.BestBid.Decimal):
		direction = types.SELL
		price = opp.BestBid.Decimal
	default:
		e.logger.Debug("no entry against book",
			"condition_id", opp.ConditionID,
			"best_bid", opp.BestBid,
			"best_ask", opp.BestAsk)
		return nil
	}

	edge := fairValue.Sub(price).Abs()
	minEdge := decimal.NewFromFloat(e.cfg.MinEdgeFor(string(opp.Category)))
	if edge.LessThan(minEdge) {
		e.logger.Debug("edge below floor",
			"condition_id", opp.ConditionID,
			"edge", edge,
			"min_edge", minEdge)
		return nil
	}

	return &types.Signal{
		Match:        match,
		FairValue:    fairValue,
		Confidence:   confidence,
		Direction:    direction,
		Edge:         edge,
		CurrentPrice: price,
		GeneratedAt:  now,
	}
}

// confidence routes on the released value's shape. Categorical results
// (game finals) are near-certain; numeric releases inherit source trust,
// with cross-validated crypto moves upgraded.
func (e *Evaluator) confidence(event types.FeedEvent) float64 {
	if event.OutcomeType == types.OutcomeCategorical {
		return 0.99
	}
	if event.FeedType == types.FeedCrypto {
		if event.MetaBool("validated") {
			return 0.92
		}
		return 0.85
	}
	return 0.99
}
