package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// OracleMonitor tracks UMA resolution proposals per condition and watches
// for outsized flow from a configured address list. Disputes feed the
// quality filter through IsDisputed; everything of note goes out as an
// OracleEvent.
//
// The monitor is ingest-driven: it holds no connection of its own. Callers
// push proposal lifecycle updates and observed flow into it.
type OracleMonitor struct {
	clock  types.Clock
	logger *slog.Logger

	// exposure resolves a condition to the open notional held on it, so
	// events can say how many dollars a dispute or whale move touches.
	exposure func(conditionID string) decimal.Decimal

	mu        sync.Mutex
	proposals map[string]*types.OracleProposal
	whales    map[string]struct{} // lowercased addresses
	callbacks []types.OracleCallback
}

// NewOracleMonitor builds a monitor over the given whale watch list.
// Addresses compare case-insensitively.
func NewOracleMonitor(cfg config.OracleConfig, exposure func(string) decimal.Decimal, clock types.Clock, logger *slog.Logger) *OracleMonitor {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if exposure == nil {
		exposure = func(string) decimal.Decimal { return decimal.Zero }
	}
	o := &OracleMonitor{
		clock:     clock,
		logger:    logger.With("component", "oracle"),
		exposure:  exposure,
		proposals: make(map[string]*types.OracleProposal),
		whales:    make(map[string]struct{}, len(cfg.WhaleAddresses)),
	}
	for _, addr := range cfg.WhaleAddresses {
		o.whales[strings.ToLower(addr)] = struct{}{}
	}
	return o
}

// OnEvent registers a callback for oracle events.
func (o *OracleMonitor) OnEvent(cb types.OracleCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// IngestProposal records a resolution proposal for a condition. A repeat
// proposal (after a dispute round) overwrites the previous state.
func (o *OracleMonitor) IngestProposal(conditionID, proposer, outcome string) {
	p := o.upsert(conditionID, func(p *types.OracleProposal) {
		p.State = types.OracleProposed
		p.Proposer = proposer
		p.ProposedOutcome = outcome
	})
	o.emit(types.OracleEvent{
		Type:        types.OracleProposalSeen,
		Timestamp:   p.UpdatedAt,
		ConditionID: conditionID,
		Proposal:    p,
		ExposureUSD: o.exposure(conditionID),
		Detail:      fmt.Sprintf("outcome %q proposed by %s", outcome, proposer),
	})
}

// IngestDispute marks a condition's resolution as disputed. A dispute on a
// condition with open exposure is the worst state the oracle can signal:
// the position may settle against a price the book no longer reflects, so
// a second HIGH_ORACLE_RISK event goes out alongside the dispute itself.
func (o *OracleMonitor) IngestDispute(conditionID, disputer string) {
	p := o.upsert(conditionID, func(p *types.OracleProposal) {
		p.State = types.OracleDisputed
		p.Disputer = disputer
	})
	exposure := o.exposure(conditionID)
	o.emit(types.OracleEvent{
		Type:        types.OracleDisputeDetected,
		Timestamp:   p.UpdatedAt,
		ConditionID: conditionID,
		Proposal:    p,
		ExposureUSD: exposure,
		Detail:      fmt.Sprintf("resolution disputed by %s", disputer),
	})
	if exposure.IsPositive() {
		o.emit(types.OracleEvent{
			Type:        types.OracleHighRisk,
			Timestamp:   p.UpdatedAt,
			ConditionID: conditionID,
			Proposal:    p,
			ExposureUSD: exposure,
			Detail:      fmt.Sprintf("$%s held on a disputed resolution", exposure.StringFixed(2)),
		})
	}
}

// IngestSettlement records the final outcome. The proposal stays in the map
// as history; IsDisputed turns false.
func (o *OracleMonitor) IngestSettlement(conditionID, outcome string) {
	p := o.upsert(conditionID, func(p *types.OracleProposal) {
		p.State = types.OracleSettled
		p.ProposedOutcome = outcome
	})
	o.emit(types.OracleEvent{
		Type:        types.OracleSettlement,
		Timestamp:   p.UpdatedAt,
		ConditionID: conditionID,
		Proposal:    p,
		ExposureUSD: o.exposure(conditionID),
		Detail:      fmt.Sprintf("settled %q", outcome),
	})
}

// IngestWhaleActivity reports large observed flow. Addresses off the watch
// list are dropped without a trace.
func (o *OracleMonitor) IngestWhaleActivity(act types.WhaleActivity) {
	o.mu.Lock()
	_, watched := o.whales[strings.ToLower(act.Address)]
	o.mu.Unlock()
	if !watched {
		return
	}
	if act.ObservedAt.IsZero() {
		act.ObservedAt = o.clock.Now()
	}
	o.emit(types.OracleEvent{
		Type:        types.OracleWhaleActivity,
		Timestamp:   act.ObservedAt,
		ConditionID: act.ConditionID,
		Whale:       &act,
		ExposureUSD: o.exposure(act.ConditionID),
		Detail:      fmt.Sprintf("%s %s $%s on %s", act.Address, act.Side, act.SizeUSD.StringFixed(0), act.ConditionID),
	})
}

// IsDisputed reports whether the condition's latest oracle state is an
// open dispute.
func (o *OracleMonitor) IsDisputed(conditionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proposals[conditionID]
	return ok && p.State == types.OracleDisputed
}

// DisputedConditions lists every condition with an open dispute, sorted.
func (o *OracleMonitor) DisputedConditions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for id, p := range o.proposals {
		if p.State == types.OracleDisputed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ExposureAtRisk sums open notional across all disputed conditions.
func (o *OracleMonitor) ExposureAtRisk() decimal.Decimal {
	total := decimal.Zero
	for _, id := range o.DisputedConditions() {
		total = total.Add(o.exposure(id))
	}
	return total
}

// Proposals returns value copies of every tracked proposal, most recently
// updated first.
func (o *OracleMonitor) Proposals() []types.OracleProposal {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.OracleProposal, 0, len(o.proposals))
	for _, p := range o.proposals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// upsert applies fn to the condition's proposal, creating it on first
// sight, and returns a value copy.
func (o *OracleMonitor) upsert(conditionID string, fn func(*types.OracleProposal)) *types.OracleProposal {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proposals[conditionID]
	if !ok {
		p = &types.OracleProposal{ConditionID: conditionID, ProposedAt: now}
		o.proposals[conditionID] = p
	}
	fn(p)
	p.UpdatedAt = now
	cp := *p
	return &cp
}

func (o *OracleMonitor) emit(ev types.OracleEvent) {
	o.mu.Lock()
	cbs := make([]types.OracleCallback, len(o.callbacks))
	copy(cbs, o.callbacks)
	o.mu.Unlock()
	for _, cb := range cbs {
		if err := cb(ev); err != nil {
			o.logger.Error("oracle callback failed", "type", ev.Type, "error", err)
		}
	}
}
