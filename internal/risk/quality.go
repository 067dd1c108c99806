package risk

import (
	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// The quality filter judges the market, not the trade: it is orthogonal to
// the pre-trade gates. The scanner's liquidity screen runs on fresh books
// at discovery time; this filter re-checks the tracked snapshot at decision
// time and adds the venue and oracle conditions the scanner cannot see.
type qualityFilter struct {
	cfg    config.RiskConfig
	oracle *OracleMonitor
}

type qualityCheck func(*types.Opportunity, types.Side) Verdict

func (q *qualityFilter) rules() []qualityCheck {
	return []qualityCheck{q.checkMarketOpen, q.checkDepth, q.checkSpread, q.checkDispute, q.checkFee}
}

// check returns the first rejection, or approval when every rule passes.
func (q *qualityFilter) check(opp *types.Opportunity, side types.Side) Verdict {
	for _, rule := range q.rules() {
		if v := rule(opp, side); !v.Approved {
			return v
		}
	}
	return approve()
}

// checkAll collects every rejection for the decision log.
func (q *qualityFilter) checkAll(opp *types.Opportunity, side types.Side) []Verdict {
	var out []Verdict
	for _, rule := range q.rules() {
		if v := rule(opp, side); !v.Approved {
			out = append(out, v)
		}
	}
	return out
}

func (q *qualityFilter) checkMarketOpen(opp *types.Opportunity, _ types.Side) Verdict {
	m := opp.Market
	switch {
	case m.Closed:
		return reject("market_closed", "market %s is closed", opp.ConditionID)
	case m.Flagged:
		return reject("market_flagged", "market %s is flagged by the venue", opp.ConditionID)
	case !m.Active:
		return reject("market_inactive", "market %s is not active", opp.ConditionID)
	case !m.AcceptingOrders:
		return reject("orders_paused", "market %s is not accepting orders", opp.ConditionID)
	}
	return approve()
}

// checkDepth screens the side the trade would hit when one is given, the
// whole book otherwise. A BUY lifts asks, a SELL hits bids.
func (q *qualityFilter) checkDepth(opp *types.Opportunity, side types.Side) Verdict {
	floor := q.cfg.MinDirectionalDepthUSD
	switch side {
	case types.BUY:
		if floor > 0 && opp.AskDepthUSD.LessThan(decimal.NewFromFloat(floor)) {
			return reject("thin_ask", "ask depth $%s under the $%.0f floor", opp.AskDepthUSD.StringFixed(2), floor)
		}
	case types.SELL:
		if floor > 0 && opp.BidDepthUSD.LessThan(decimal.NewFromFloat(floor)) {
			return reject("thin_bid", "bid depth $%s under the $%.0f floor", opp.BidDepthUSD.StringFixed(2), floor)
		}
	default:
		return gateDepth(opp.DepthUSD, q.cfg.MinOrderbookDepthUSD)
	}
	return approve()
}

func (q *qualityFilter) checkSpread(opp *types.Opportunity, _ types.Side) Verdict {
	return gateSpread(opp.Spread, q.cfg.MaxSpread)
}

func (q *qualityFilter) checkDispute(opp *types.Opportunity, _ types.Side) Verdict {
	if q.oracle != nil && q.oracle.IsDisputed(opp.ConditionID) {
		return reject("resolution_disputed", "condition %s has an open UMA dispute", opp.ConditionID)
	}
	return approve()
}

func (q *qualityFilter) checkFee(opp *types.Opportunity, _ types.Side) Verdict {
	if q.cfg.MaxFeeRateBps > 0 && opp.FeeRateBps > q.cfg.MaxFeeRateBps {
		return reject("fee_too_high", "fee %d bps over the %d bps limit", opp.FeeRateBps, q.cfg.MaxFeeRateBps)
	}
	return approve()
}
