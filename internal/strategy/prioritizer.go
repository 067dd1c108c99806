package strategy

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// defaultCategoryWeight applies when no per-category weight is configured.
const defaultCategoryWeight = 0.5

// Prioritizer ranks simultaneous matches from one event and enforces the
// per-event trade cap and per-condition cooldown.
type Prioritizer struct {
	cfg    config.StrategyConfig
	clock  types.Clock
	logger *slog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time // condition ID → cooldown expiry
}

// NewPrioritizer builds a prioritizer. A nil clock means wall clock.
func NewPrioritizer(cfg config.StrategyConfig, clock types.Clock, logger *slog.Logger) *Prioritizer {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Prioritizer{
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With("component", "prioritizer"),
		cooldowns: make(map[string]time.Time),
	}
}

// Prioritize filters cooled-down conditions, scores the rest, sorts
// descending, truncates to the per-event cap, and assigns 1-indexed ranks.
func (p *Prioritizer) Prioritize(matches []types.MatchResult) []types.MatchResult {
	now := p.clock.Now()

	p.mu.Lock()
	for id, until := range p.cooldowns {
		if !now.Before(until) {
			delete(p.cooldowns, id)
		}
	}
	kept := make([]types.MatchResult, 0, len(matches))
	for _, match := range matches {
		if until, ok := p.cooldowns[match.Opportunity.ConditionID]; ok && now.Before(until) {
			p.logger.Debug("condition on cooldown",
				"condition_id", match.Opportunity.ConditionID,
				"until", until)
			continue
		}
		kept = append(kept, match)
	}
	p.mu.Unlock()

	type scored struct {
		match types.MatchResult
		score float64
	}
	ranked := make([]scored, len(kept))
	for i, match := range kept {
		ranked[i] = scored{match: match, score: p.score(match)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if p.cfg.MaxTradesPerEvent > 0 && len(ranked) > p.cfg.MaxTradesPerEvent {
		ranked = ranked[:p.cfg.MaxTradesPerEvent]
	}
	out := make([]types.MatchResult, len(ranked))
	for i, r := range ranked {
		r.match.Priority = i + 1
		out[i] = r.match
	}
	return out
}

// RecordTrade stamps a cooldown on the condition. A non-positive cooldown
// period disables cooldowns entirely.
func (p *Prioritizer) RecordTrade(conditionID string) {
	if p.cfg.CooldownPeriod <= 0 {
		return
	}
	p.mu.Lock()
	p.cooldowns[conditionID] = p.clock.Now().Add(p.cfg.CooldownPeriod)
	p.mu.Unlock()
}

// OnCooldown reports whether the condition is currently locked out.
func (p *Prioritizer) OnCooldown(conditionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.cooldowns[conditionID]
	return ok && p.clock.Now().Before(until)
}

// score composes the priority: opportunity quality, matcher confidence,
// estimated edge from the ask, and a per-category weight.
func (p *Prioritizer) score(match types.MatchResult) float64 {
	edge := 0.0
	if opp := match.Opportunity; opp.BestAsk.Valid {
		ask, _ := opp.BestAsk.Decimal.Float64()
		edge = (0.99 - ask) / 0.99
		if edge < 0 {
			edge = 0
		}
		if edge > 1 {
			edge = 1
		}
	}

	catWeight := defaultCategoryWeight
	if w, ok := p.cfg.CategoryWeights[string(match.Opportunity.Category)]; ok {
		catWeight = w
	}

	return p.cfg.OpportunityWeight*match.Opportunity.Score +
		p.cfg.ConfidenceWeight*match.Confidence +
		p.cfg.EdgeWeight*edge +
		p.cfg.CategoryWeight*catWeight
}
