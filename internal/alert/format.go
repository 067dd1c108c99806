package alert

import (
	"fmt"

	"polyarb/pkg/types"
)

// Formatters are pure: event in, AlertMessage out. Severity is fixed per
// event type here and nowhere else.

// FormatArbEvent renders an engine pipeline event.
func FormatArbEvent(ev types.ArbEvent) AlertMessage {
	msg := AlertMessage{
		Severity:        SeverityDebug,
		SourceEventType: string(ev.Type),
		Timestamp:       ev.Timestamp,
		Raw:             ev,
	}

	switch ev.Type {
	case types.ArbEngineStarted:
		msg.Severity = SeverityInfo
		msg.Title = "Engine started"
		msg.Body = ev.Detail
	case types.ArbEngineStopped:
		msg.Severity = SeverityInfo
		msg.Title = "Engine stopped"
		msg.Body = ev.Detail
	case types.ArbTradeExecuted:
		msg.Severity = SeverityInfo
		msg.Title = "Trade executed"
		msg.Body = tradeLine(ev)
		msg.Fields = tradeFields(ev)
	case types.ArbTradeFailed:
		msg.Severity = SeverityWarning
		msg.Title = "Trade failed"
		msg.Body = tradeLine(ev)
		msg.Fields = tradeFields(ev)
	case types.ArbMatchFound:
		msg.Title = "Match found"
		msg.Body = matchLine(ev.Match)
	case types.ArbSignalGenerated:
		msg.Title = "Signal generated"
		msg.Body = signalLine(ev.Signal)
	case types.ArbTradeSkipped:
		msg.Title = "Trade skipped"
		msg.Body = ev.Detail
	case types.ArbRiskRejected:
		msg.Title = "Trade rejected by risk"
		msg.Body = ev.Detail
	default:
		msg.Title = string(ev.Type)
		msg.Body = ev.Detail
	}
	return msg
}

// FormatRiskEvent renders a risk monitor event.
func FormatRiskEvent(ev types.RiskEvent) AlertMessage {
	msg := AlertMessage{
		Severity:        SeverityDebug,
		SourceEventType: string(ev.Type),
		Timestamp:       ev.Timestamp,
		Raw:             ev,
	}

	switch ev.Type {
	case types.RiskKillSwitchTriggered:
		msg.Severity = SeverityCritical
		msg.Title = "Kill switch triggered"
		if ev.Kill != nil {
			msg.Body = ev.Kill.Reason
			msg.Fields = map[string]string{"trigger": string(ev.Kill.Trigger)}
		}
	case types.RiskDisputeDetected:
		msg.Severity = SeverityCritical
		msg.Title = "Dispute detected"
		msg.Body = ev.Detail
	case types.RiskWhaleActivity:
		msg.Severity = SeverityWarning
		msg.Title = "Whale activity"
		msg.Body = ev.Detail
	case types.RiskKillSwitchReset:
		msg.Severity = SeverityInfo
		msg.Title = "Kill switch reset"
		msg.Body = ev.Detail
	case types.RiskPositionOpened, types.RiskPositionUpdated, types.RiskPositionClosed:
		msg.Title = positionTitle(ev.Type)
		msg.Body = positionLine(ev)
	default:
		msg.Title = string(ev.Type)
		msg.Body = ev.Detail
	}
	return msg
}

// FormatFeedEvent renders a feed lifecycle or data event.
func FormatFeedEvent(ev types.FeedEvent) AlertMessage {
	msg := AlertMessage{
		Severity:        SeverityDebug,
		SourceEventType: string(ev.EventType),
		Timestamp:       ev.ReceivedAt,
		Raw:             ev,
		Fields:          map[string]string{"feed": string(ev.FeedType)},
	}

	switch ev.EventType {
	case types.FeedDisconnected:
		msg.Severity = SeverityWarning
		msg.Title = fmt.Sprintf("%s feed disconnected", ev.FeedType)
		msg.Body = ev.Value
	case types.FeedErrored:
		msg.Severity = SeverityWarning
		msg.Title = fmt.Sprintf("%s feed error", ev.FeedType)
		msg.Body = ev.Value
	case types.FeedConnected:
		msg.Title = fmt.Sprintf("%s feed connected", ev.FeedType)
	case types.FeedDataReleased:
		msg.Title = fmt.Sprintf("%s release: %s", ev.FeedType, ev.Indicator)
		msg.Body = ev.Value
		msg.Fields["indicator"] = ev.Indicator
	default:
		msg.Title = string(ev.EventType)
	}
	return msg
}

// FormatOracleEvent renders an oracle monitor event.
func FormatOracleEvent(ev types.OracleEvent) AlertMessage {
	msg := AlertMessage{
		Severity:        SeverityDebug,
		SourceEventType: string(ev.Type),
		Timestamp:       ev.Timestamp,
		Raw:             ev,
		Fields:          map[string]string{"condition_id": ev.ConditionID},
	}
	if ev.ExposureUSD.IsPositive() {
		msg.Fields["exposure_usd"] = ev.ExposureUSD.StringFixed(2)
	}

	switch ev.Type {
	case types.OracleDisputeDetected:
		msg.Severity = SeverityCritical
		msg.Title = "Oracle dispute detected"
		msg.Body = ev.Detail
	case types.OracleWhaleActivity:
		msg.Severity = SeverityWarning
		msg.Title = "Oracle whale activity"
		msg.Body = ev.Detail
		if ev.Whale != nil {
			msg.Fields["address"] = ev.Whale.Address
		}
	case types.OracleHighRisk:
		msg.Severity = SeverityWarning
		msg.Title = "High oracle risk"
		msg.Body = ev.Detail
	case types.OracleSettlement:
		msg.Severity = SeverityInfo
		msg.Title = "Market settled"
		msg.Body = ev.Detail
	case types.OracleProposalSeen:
		msg.Title = "Oracle proposal"
		msg.Body = ev.Detail
	default:
		msg.Title = string(ev.Type)
		msg.Body = ev.Detail
	}
	return msg
}

func tradeLine(ev types.ArbEvent) string {
	if ev.Action == nil {
		return ev.Detail
	}
	a := ev.Action
	line := fmt.Sprintf("%s %s @ %s", a.Side, a.Size, a.Price)
	if opp := a.Signal.Match.Opportunity; opp != nil {
		line += fmt.Sprintf(" on %q", opp.Question)
	}
	if ev.Result != nil && !ev.Result.Success && ev.Result.Error != "" {
		line += ": " + ev.Result.Error
	}
	return line
}

func tradeFields(ev types.ArbEvent) map[string]string {
	if ev.Action == nil {
		return nil
	}
	a := ev.Action
	f := map[string]string{
		"condition_id":   a.ConditionID(),
		"token_id":       a.TokenID,
		"side":           string(a.Side),
		"price":          a.Price.String(),
		"size":           a.Size.String(),
		"notional_usd":   a.SizeUSD().StringFixed(2),
		"est_profit_usd": a.EstimatedProfitUSD.StringFixed(2),
	}
	if r := ev.Result; r != nil {
		if r.OrderID != "" {
			f["order_id"] = r.OrderID
		}
		if r.Success {
			f["fill_price"] = r.FillPrice.String()
			f["fill_size"] = r.FillSize.String()
		}
		if r.Error != "" {
			f["error"] = r.Error
		}
	}
	return f
}

func matchLine(m *types.MatchResult) string {
	if m == nil {
		return ""
	}
	line := fmt.Sprintf("%s -> %s (confidence %.2f)", m.Event.Indicator, m.TargetOutcome, m.Confidence)
	if m.Opportunity != nil {
		line += fmt.Sprintf(" on %q", m.Opportunity.Question)
	}
	return line
}

func signalLine(s *types.Signal) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s edge %s (fair %s vs book %s)",
		s.Direction, s.Edge, s.FairValue, s.CurrentPrice)
}

func positionTitle(t types.RiskEventType) string {
	switch t {
	case types.RiskPositionOpened:
		return "Position opened"
	case types.RiskPositionUpdated:
		return "Position updated"
	default:
		return "Position closed"
	}
}

func positionLine(ev types.RiskEvent) string {
	p := ev.Position
	if p == nil {
		return ev.Detail
	}
	line := fmt.Sprintf("%s %s @ %s (%s)", p.Side, p.Size, p.EntryPrice, p.TokenID)
	if ev.Type == types.RiskPositionClosed {
		line += fmt.Sprintf(", realized %s", ev.RealizedPnL.StringFixed(2))
	}
	return line
}
