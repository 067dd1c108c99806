package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"polyarb/internal/engine"
	"polyarb/internal/metrics"
	"polyarb/internal/risk"
	"polyarb/pkg/types"
)

// StatsSource supplies the engine pipeline counters. *engine.Engine
// implements it.
type StatsSource interface {
	Stats() engine.Stats
}

// RiskSource supplies the risk state. *risk.Monitor implements it.
type RiskSource interface {
	Snapshot() risk.Snapshot
}

// OpportunitySource supplies the tracked market set. *market.Scanner
// implements it.
type OpportunitySource interface {
	Opportunities() []*types.Opportunity
}

// MetricsSource supplies aggregated trade statistics. *metrics.Collector
// implements it.
type MetricsSource interface {
	Summary() metrics.Summary
}

// Sources bundles the read-only views the API serves.
type Sources struct {
	Stats   StatsSource
	Risk    RiskSource
	Opps    OpportunitySource
	Metrics MetricsSource
}

// StatusReport is the /api/status document.
type StatusReport struct {
	Paper      bool                  `json:"paper"`
	StartedAt  time.Time             `json:"started_at"`
	UptimeSecs int64                 `json:"uptime_secs"`
	Engine     engine.Stats          `json:"engine"`
	KillSwitch types.KillSwitchState `json:"kill_switch"`
}

// OpportunityPage is the /api/opportunities document.
type OpportunityPage struct {
	Count         int                  `json:"count"`
	Opportunities []*types.Opportunity `json:"opportunities"`
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	src     Sources
	paper   bool
	clock   types.Clock
	started time.Time
	logger  *slog.Logger
}

// NewHandlers builds the handler set. A nil clock means wall clock; uptime
// counts from construction.
func NewHandlers(src Sources, paperMode bool, clock types.Clock, logger *slog.Logger) *Handlers {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Handlers{
		src:     src,
		paper:   paperMode,
		clock:   clock,
		started: clock.Now(),
		logger:  logger.With("component", "api"),
	}
}

// HandleHealth returns a liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.allowGet(w, r) {
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleStatus returns the combined engine and kill-switch view.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.allowGet(w, r) {
		return
	}
	snap := h.src.Risk.Snapshot()
	h.writeJSON(w, StatusReport{
		Paper:      h.paper,
		StartedAt:  h.started,
		UptimeSecs: int64(h.clock.Now().Sub(h.started).Seconds()),
		Engine:     h.src.Stats.Stats(),
		KillSwitch: snap.KillSwitch,
	})
}

// HandleRisk returns positions, P&L and oracle exposure.
func (h *Handlers) HandleRisk(w http.ResponseWriter, r *http.Request) {
	if !h.allowGet(w, r) {
		return
	}
	h.writeJSON(w, h.src.Risk.Snapshot())
}

// HandleOpportunities returns the tracked market set.
func (h *Handlers) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	if !h.allowGet(w, r) {
		return
	}
	opps := h.src.Opps.Opportunities()
	if opps == nil {
		opps = []*types.Opportunity{}
	}
	h.writeJSON(w, OpportunityPage{Count: len(opps), Opportunities: opps})
}

// HandleMetrics returns the trade, P&L, latency and liquidity summary.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.allowGet(w, r) {
		return
	}
	h.writeJSON(w, h.src.Metrics.Summary())
}

// allowGet rejects every method but GET. The API is read-only.
func (h *Handlers) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
