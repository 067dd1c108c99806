// Package risk is the veto layer between signal generation and the venue.
//
// Every trade action passes six gates in a fixed order: kill switch, daily
// loss, per-event concentration, concurrent positions, book depth, spread.
// The first rejection wins and nothing later runs. A separate quality
// filter screens opportunities rather than trades: venue flags, one-sided
// depth, open UMA disputes, fee caps.
//
// The package also keeps the authoritative position and P&L state. Fills
// flow in through RecordFill, which averages, reduces, or closes positions
// and settles realized P&L into a UTC-day ledger. Breaching the daily loss
// limit, a loss streak, a failed-trade ratio, or a connectivity outage
// trips the kill switch; once tripped it latches until an operator resets
// it.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// Monitor owns the risk state: gates, positions, the P&L ledger, the kill
// switch, and the oracle monitor. One Monitor serves the whole process.
type Monitor struct {
	cfg    config.RiskConfig
	clock  types.Clock
	logger *slog.Logger

	positions *positionBook
	ledger    *dailyLedger
	kill      *killSwitch
	quality   *qualityFilter
	oracle    *OracleMonitor

	mu        sync.Mutex
	callbacks []types.RiskCallback
}

// NewMonitor wires the risk subsystem together. The oracle monitor is
// constructed here so its events can cross-reference open positions.
func NewMonitor(cfg config.RiskConfig, oracleCfg config.OracleConfig, clock types.Clock, logger *slog.Logger) *Monitor {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "risk"),
	}
	m.positions = newPositionBook(clock)
	m.ledger = newDailyLedger(clock)
	m.kill = newKillSwitch(cfg, clock, m.logger)
	m.oracle = NewOracleMonitor(oracleCfg, m.positions.conditionExposureUSD, clock, logger)
	m.quality = &qualityFilter{cfg: cfg, oracle: m.oracle}
	m.oracle.OnEvent(m.onOracleEvent)
	return m
}

// OnEvent registers a callback for risk events.
func (m *Monitor) OnEvent(cb types.RiskCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Oracle exposes the oracle monitor for ingestion wiring.
func (m *Monitor) Oracle() *OracleMonitor { return m.oracle }

// CheckTrade runs the pre-trade gates in order and returns the first
// rejection. The cheap global halts come before the per-trade arithmetic.
func (m *Monitor) CheckTrade(action *types.TradeAction) Verdict {
	opp := action.Signal.Match.Opportunity
	verdicts := []Verdict{
		gateKillSwitch(m.kill.snapshot()),
		gateDailyLoss(m.ledger.realizedToday(), m.cfg.MaxDailyLossUSD),
		gateConcentration(m.positions.conditionExposureUSD(action.ConditionID()), action.SizeUSD(), m.cfg),
		gateMaxPositions(m.positions.count(), m.cfg.MaxConcurrentPositions),
		gateDepth(opp.DepthUSD, m.cfg.MinOrderbookDepthUSD),
		gateSpread(opp.Spread, m.cfg.MaxSpread),
	}
	for _, v := range verdicts {
		if !v.Approved {
			m.logger.Warn("trade rejected",
				"token_id", action.TokenID,
				"reason", v.Reason,
				"detail", v.Detail)
			return v
		}
	}
	return approve()
}

// CheckOpportunity runs the quality rules against a tracked market and
// returns the first rejection. Side selects which half of the book the
// depth rule screens; pass the zero value to screen total depth.
func (m *Monitor) CheckOpportunity(opp *types.Opportunity, side types.Side) Verdict {
	return m.quality.check(opp, side)
}

// CheckOpportunityAll returns every quality rejection, for the decision
// log.
func (m *Monitor) CheckOpportunityAll(opp *types.Opportunity, side types.Side) []Verdict {
	return m.quality.checkAll(opp, side)
}

// RecordFill settles one execution outcome into positions, P&L, and the
// kill-switch counters, and emits the resulting position event.
//
// Failed executions feed the counters only; positions and the ledger do
// not move. A daily-loss breach after settlement trips the kill switch
// immediately rather than waiting for the next CheckTrade.
func (m *Monitor) RecordFill(res *types.ExecutionResult) {
	if m.kill.recordTrade(res.Success) {
		m.emitKillTriggered()
	}
	if !res.Success {
		return
	}

	before, after := m.positions.applyFill(res)
	realized := realizedPnL(before, res)
	m.ledger.add(realized)

	ev := types.RiskEvent{Timestamp: m.clock.Now(), Result: res, RealizedPnL: realized}
	switch {
	case before == nil:
		ev.Type = types.RiskPositionOpened
		ev.Position = after
		ev.Detail = fmt.Sprintf("opened %s %s of %s @ %s",
			after.Side, after.Size.String(), after.TokenID, after.EntryPrice.String())
	case after == nil:
		ev.Type = types.RiskPositionClosed
		ev.Position = before
		ev.Detail = fmt.Sprintf("closed %s, realized $%s", before.TokenID, realized.StringFixed(2))
	default:
		ev.Type = types.RiskPositionUpdated
		ev.Position = after
		ev.Detail = fmt.Sprintf("%s now %s @ %s", after.TokenID, after.Size.String(), after.EntryPrice.String())
	}
	m.emit(ev)

	if m.cfg.MaxDailyLossUSD > 0 {
		today := m.ledger.realizedToday()
		if today.LessThan(decimal.NewFromFloat(m.cfg.MaxDailyLossUSD).Neg()) {
			reason := fmt.Sprintf("realized $%s today, limit -$%.2f", today.StringFixed(2), m.cfg.MaxDailyLossUSD)
			if m.kill.trip(types.KillTriggerDailyLoss, reason) {
				m.emitKillTriggered()
			}
		}
	}
}

// RecordAPIResult feeds venue connectivity into the kill switch. Call it
// with the transport outcome of every order attempt: a venue rejection is
// a failed trade but a healthy connection.
func (m *Monitor) RecordAPIResult(success bool) {
	if m.kill.recordAPI(success) {
		m.emitKillTriggered()
	}
}

// Trip latches the kill switch by hand: operator action, a scripted
// scenario, or the dispute path below.
func (m *Monitor) Trip(trigger types.KillTrigger, reason string) {
	if m.kill.trip(trigger, reason) {
		m.emitKillTriggered()
	}
}

// ResetKillSwitch clears the latch and its counters and announces the
// reset. Operator action only.
func (m *Monitor) ResetKillSwitch() {
	m.kill.reset()
	m.emit(types.RiskEvent{
		Type:      types.RiskKillSwitchReset,
		Timestamp: m.clock.Now(),
		Detail:    "kill switch reset by operator",
	})
}

// KillSwitch returns the current latch state.
func (m *Monitor) KillSwitch() types.KillSwitchState {
	return m.kill.snapshot()
}

// Position returns a copy of the open position on a token, or nil.
func (m *Monitor) Position(tokenID string) *types.Position {
	return m.positions.get(tokenID)
}

// Snapshot is a point-in-time view of the risk state for the status API
// and the daily summary.
type Snapshot struct {
	Positions     []types.Position      `json:"positions"`
	OpenPositions int                   `json:"open_positions"`
	ExposureUSD   decimal.Decimal       `json:"exposure_usd"`
	RealizedToday decimal.Decimal       `json:"realized_today_usd"`
	RealizedTotal decimal.Decimal       `json:"realized_total_usd"`
	DayStartUTC   time.Time             `json:"day_start_utc"`
	KillSwitch    types.KillSwitchState `json:"kill_switch"`
	Disputed      []string              `json:"disputed_conditions,omitempty"`
	OracleRiskUSD decimal.Decimal       `json:"oracle_risk_usd"`
}

// Snapshot returns the current risk state.
func (m *Monitor) Snapshot() Snapshot {
	positions := m.positions.snapshot()
	exposure := decimal.Zero
	for _, p := range positions {
		exposure = exposure.Add(p.NotionalUSD())
	}
	return Snapshot{
		Positions:     positions,
		OpenPositions: len(positions),
		ExposureUSD:   exposure,
		RealizedToday: m.ledger.realizedToday(),
		RealizedTotal: m.ledger.realizedTotal(),
		DayStartUTC:   m.ledger.dayStartUTC(),
		KillSwitch:    m.kill.snapshot(),
		Disputed:      m.oracle.DisputedConditions(),
		OracleRiskUSD: m.oracle.ExposureAtRisk(),
	}
}

// onOracleEvent folds oracle findings into the risk stream. A dispute on a
// condition the bot holds trips the kill switch: settlement risk on open
// inventory is not something the gates can price.
func (m *Monitor) onOracleEvent(ev types.OracleEvent) error {
	switch ev.Type {
	case types.OracleDisputeDetected:
		m.emit(types.RiskEvent{
			Type:      types.RiskDisputeDetected,
			Timestamp: ev.Timestamp,
			Detail:    fmt.Sprintf("%s: %s", ev.ConditionID, ev.Detail),
		})
		if ev.ExposureUSD.IsPositive() {
			m.Trip(types.KillTriggerDispute,
				fmt.Sprintf("dispute on %s with $%s at risk", ev.ConditionID, ev.ExposureUSD.StringFixed(2)))
		}
	case types.OracleWhaleActivity:
		m.emit(types.RiskEvent{
			Type:      types.RiskWhaleActivity,
			Timestamp: ev.Timestamp,
			Detail:    ev.Detail,
		})
	}
	return nil
}

func (m *Monitor) emitKillTriggered() {
	state := m.kill.snapshot()
	m.emit(types.RiskEvent{
		Type:      types.RiskKillSwitchTriggered,
		Timestamp: state.TriggeredAt,
		Kill:      &state,
		Detail:    state.Reason,
	})
}

func (m *Monitor) emit(ev types.RiskEvent) {
	m.mu.Lock()
	cbs := make([]types.RiskCallback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.mu.Unlock()
	for _, cb := range cbs {
		if err := cb(ev); err != nil {
			m.logger.Error("risk callback failed", "type", ev.Type, "error", err)
		}
	}
}
