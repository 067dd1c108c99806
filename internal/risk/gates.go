package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// Verdict is the outcome of a single risk check. Reason is a stable tag for
// counters and the decision log; Detail carries the numbers behind it.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func approve() Verdict { return Verdict{Approved: true} }

func reject(reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// The pre-trade gates below are pure: state in, verdict out. CheckTrade
// applies them in a fixed order and the first rejection wins. A limit set
// to zero disables its gate.

func gateKillSwitch(state types.KillSwitchState) Verdict {
	if state.Active {
		return reject("kill_switch_active", "kill switch tripped by %s: %s", state.Trigger, state.Reason)
	}
	return approve()
}

// gateDailyLoss halts new trades once today's realized loss is past the
// limit. Sitting exactly at the limit still passes; the next losing fill
// tips it over.
func gateDailyLoss(realizedToday decimal.Decimal, maxLossUSD float64) Verdict {
	if maxLossUSD <= 0 {
		return approve()
	}
	limit := decimal.NewFromFloat(maxLossUSD).Neg()
	if realizedToday.LessThan(limit) {
		return reject("daily_loss_limit", "realized $%s today, limit -$%.2f", realizedToday.StringFixed(2), maxLossUSD)
	}
	return approve()
}

// gateConcentration caps exposure per event at a fraction of bankroll,
// counting what is already deployed on the same condition. Both outcome
// tokens of a condition count toward the same bucket.
func gateConcentration(existingUSD, newUSD decimal.Decimal, cfg config.RiskConfig) Verdict {
	if cfg.BankrollUSD <= 0 || cfg.MaxBankrollPctPerEvent <= 0 {
		return approve()
	}
	limit := decimal.NewFromFloat(cfg.BankrollUSD * cfg.MaxBankrollPctPerEvent)
	total := existingUSD.Add(newUSD)
	if total.GreaterThan(limit) {
		return reject("event_concentration", "$%s on one event exceeds the $%s cap", total.StringFixed(2), limit.StringFixed(2))
	}
	return approve()
}

func gateMaxPositions(open, maxOpen int) Verdict {
	if maxOpen <= 0 {
		return approve()
	}
	if open >= maxOpen {
		return reject("max_positions", "%d positions open, limit %d", open, maxOpen)
	}
	return approve()
}

func gateDepth(depthUSD decimal.Decimal, minUSD float64) Verdict {
	if minUSD <= 0 {
		return approve()
	}
	if depthUSD.LessThan(decimal.NewFromFloat(minUSD)) {
		return reject("thin_book", "book depth $%s under the $%.0f floor", depthUSD.StringFixed(2), minUSD)
	}
	return approve()
}

// gateSpread rejects wide books. A one-sided book has no spread to measure
// and passes here; the depth gate covers it.
func gateSpread(spread decimal.NullDecimal, maxSpread float64) Verdict {
	if maxSpread <= 0 || !spread.Valid {
		return approve()
	}
	if spread.Decimal.GreaterThan(decimal.NewFromFloat(maxSpread)) {
		return reject("wide_spread", "spread %s over the %.2f limit", spread.Decimal.String(), maxSpread)
	}
	return approve()
}
