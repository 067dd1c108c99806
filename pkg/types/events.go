package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event streams connecting the pipeline. Components emit via lists of typed
// callbacks registered at wiring time; emitters catch and log callback
// errors so a bad listener never stalls a producer.

// ————————————————————————————————————————————————————————————————————————
// Arbitrage engine events
// ————————————————————————————————————————————————————————————————————————

// ArbEventType discriminates engine pipeline emissions.
type ArbEventType string

const (
	ArbEngineStarted   ArbEventType = "ENGINE_STARTED"
	ArbEngineStopped   ArbEventType = "ENGINE_STOPPED"
	ArbMatchFound      ArbEventType = "MATCH_FOUND"
	ArbSignalGenerated ArbEventType = "SIGNAL_GENERATED"
	ArbTradeSkipped    ArbEventType = "TRADE_SKIPPED"
	ArbRiskRejected    ArbEventType = "RISK_REJECTED"
	ArbTradeExecuted   ArbEventType = "TRADE_EXECUTED"
	ArbTradeFailed     ArbEventType = "TRADE_FAILED"
)

// ArbEvent is one engine pipeline emission. Only the fields that exist at
// the emitting stage are populated; a TRADE_EXECUTED event carries the whole
// chain through Result.
type ArbEvent struct {
	Type      ArbEventType     `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	FeedEvent *FeedEvent       `json:"feed_event,omitempty"`
	Match     *MatchResult     `json:"match,omitempty"`
	Signal    *Signal          `json:"signal,omitempty"`
	Action    *TradeAction     `json:"action,omitempty"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// ArbCallback receives engine events. Errors are logged by the emitter and
// never propagate back into the pipeline.
type ArbCallback func(ArbEvent) error

// ————————————————————————————————————————————————————————————————————————
// Risk events
// ————————————————————————————————————————————————————————————————————————

// RiskEventType discriminates risk monitor emissions.
type RiskEventType string

const (
	RiskPositionOpened      RiskEventType = "POSITION_OPENED"
	RiskPositionUpdated     RiskEventType = "POSITION_UPDATED"
	RiskPositionClosed      RiskEventType = "POSITION_CLOSED"
	RiskKillSwitchTriggered RiskEventType = "KILL_SWITCH_TRIGGERED"
	RiskKillSwitchReset     RiskEventType = "KILL_SWITCH_RESET"
	RiskDisputeDetected     RiskEventType = "DISPUTE_DETECTED"
	RiskWhaleActivity       RiskEventType = "WHALE_ACTIVITY"
)

// RiskEvent is one risk subsystem emission.
type RiskEvent struct {
	Type        RiskEventType    `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Position    *Position        `json:"position,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
	Kill        *KillSwitchState `json:"kill,omitempty"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	Detail      string           `json:"detail,omitempty"`
}

// RiskCallback receives risk events.
type RiskCallback func(RiskEvent) error

// ————————————————————————————————————————————————————————————————————————
// Oracle events
// ————————————————————————————————————————————————————————————————————————

// OracleEventType discriminates oracle monitor emissions.
type OracleEventType string

const (
	OracleProposalSeen    OracleEventType = "PROPOSAL"
	OracleDisputeDetected OracleEventType = "DISPUTE_DETECTED"
	OracleSettlement      OracleEventType = "SETTLEMENT"
	OracleWhaleActivity   OracleEventType = "WHALE_ACTIVITY"
	OracleHighRisk        OracleEventType = "HIGH_ORACLE_RISK"
)

// OracleEvent is one oracle monitor emission. ExposureUSD is the notional of
// held positions on the affected condition at emission time.
type OracleEvent struct {
	Type        OracleEventType `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	ConditionID string          `json:"condition_id"`
	Proposal    *OracleProposal `json:"proposal,omitempty"`
	Whale       *WhaleActivity  `json:"whale,omitempty"`
	ExposureUSD decimal.Decimal `json:"exposure_usd"`
	Detail      string          `json:"detail,omitempty"`
}

// OracleCallback receives oracle events.
type OracleCallback func(OracleEvent) error

// ————————————————————————————————————————————————————————————————————————
// Opportunity lifecycle events
// ————————————————————————————————————————————————————————————————————————

// OpportunityEventType discriminates scanner lifecycle emissions.
type OpportunityEventType string

const (
	OpportunityFound   OpportunityEventType = "OPPORTUNITY_FOUND"
	OpportunityUpdated OpportunityEventType = "OPPORTUNITY_UPDATED"
	OpportunityLost    OpportunityEventType = "OPPORTUNITY_LOST"
)

// OpportunityEvent is one scanner lifecycle emission.
type OpportunityEvent struct {
	Type        OpportunityEventType `json:"type"`
	Timestamp   time.Time            `json:"timestamp"`
	Opportunity *Opportunity         `json:"opportunity"`
	Reason      string               `json:"reason,omitempty"`
}

// OpportunityCallback receives scanner lifecycle events.
type OpportunityCallback func(OpportunityEvent) error

// FeedCallback receives feed events. Feeds dispatch to callbacks
// sequentially in registration order and log (never propagate) errors.
type FeedCallback func(FeedEvent) error
