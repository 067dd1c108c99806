package strategy

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// depthCapFraction bounds an order to a fraction of the visible depth on the
// side it would consume, so a fill cannot walk the whole book.
var depthCapFraction = decimal.NewFromFloat(0.2)

// Sizer converts signals into sized trade actions.
type Sizer struct {
	cfg    config.StrategyConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewSizer builds a sizer. A nil clock means wall clock.
func NewSizer(cfg config.StrategyConfig, clock types.Clock, logger *slog.Logger) *Sizer {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Sizer{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "sizer"),
	}
}

// Size produces a trade action, or nil when the sized order cannot clear the
// minimum profit bar. USD size starts at the flat base (or fractional Kelly
// when enabled), then is capped by max size and by 20% of the visible depth.
func (s *Sizer) Size(signal *types.Signal) *types.TradeAction {
	price := signal.CurrentPrice
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil
	}

	sizeUSD := decimal.NewFromFloat(s.cfg.BaseSizeUSD)
	if s.cfg.UseKelly {
		if kelly, ok := s.kellySizeUSD(signal.Confidence, price, signal.Direction); ok {
			sizeUSD = kelly
		}
	}

	maxSize := decimal.NewFromFloat(s.cfg.MaxSizeUSD)
	if maxSize.IsPositive() && sizeUSD.GreaterThan(maxSize) {
		sizeUSD = maxSize
	}

	depth := signal.Match.Opportunity.AskDepthUSD
	if signal.Direction == types.SELL {
		depth = signal.Match.Opportunity.BidDepthUSD
	}
	if depthCap := depth.Mul(depthCapFraction); sizeUSD.GreaterThan(depthCap) {
		sizeUSD = depthCap
	}
	if !sizeUSD.IsPositive() {
		s.logger.Debug("no size after depth cap",
			"condition_id", signal.Match.Opportunity.ConditionID,
			"depth", depth)
		return nil
	}

	tokens := sizeUSD.Div(price)
	profit := tokens.Mul(signal.Edge)
	if profit.LessThan(decimal.NewFromFloat(s.cfg.MinProfitUSD)) {
		s.logger.Debug("estimated profit below minimum",
			"condition_id", signal.Match.Opportunity.ConditionID,
			"est_profit", profit,
			"min_profit", s.cfg.MinProfitUSD)
		return nil
	}

	return &types.TradeAction{
		Signal:             *signal,
		TokenID:            signal.Match.TargetTokenID,
		Side:               signal.Direction,
		Price:              price,
		Size:               tokens,
		OrderType:          types.OrderType(s.cfg.OrderTypeOrDefault()),
		MaxSlippage:        decimal.NewFromFloat(s.cfg.MaxSlippage),
		EstimatedProfitUSD: profit,
		Reason: fmt.Sprintf("%s %s %s @ %s: edge %s, est profit $%s",
			signal.Direction,
			tokens.StringFixed(2),
			signal.Match.TargetOutcome,
			price,
			signal.Edge,
			profit.StringFixed(2)),
		CreatedAt: s.clock.Now(),
	}
}

// kellySizeUSD computes the fractional-Kelly stake. ok is false when the
// Kelly fraction is non-positive (no statistical edge at this price), in
// which case the caller keeps the flat base size.
func (s *Sizer) kellySizeUSD(confidence float64, price decimal.Decimal, side types.Side) (decimal.Decimal, bool) {
	one := decimal.NewFromInt(1)
	p := decimal.NewFromFloat(confidence)
	q := one.Sub(p)

	// b is the net odds per dollar staked: a YES share at $0.50 pays out
	// $1.00, so b = 1 for a buy at mid.
	var b decimal.Decimal
	if side == types.BUY {
		b = one.Sub(price).Div(price)
	} else {
		b = price.Div(one.Sub(price))
	}
	if !b.IsPositive() {
		return decimal.Decimal{}, false
	}

	f := p.Mul(b).Sub(q).Div(b)
	if !f.IsPositive() {
		return decimal.Decimal{}, false
	}

	return f.Mul(decimal.NewFromFloat(s.cfg.KellyFraction)).Mul(decimal.NewFromFloat(s.cfg.MaxSizeUSD)), true
}
