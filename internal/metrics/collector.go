// Package metrics aggregates engine events into trade, P&L, latency and
// liquidity statistics. The collector is a passive subscriber: wire
// OnArbEvent into the engine and read snapshots from the query methods.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// TradeRecord captures one completed execution attempt (success or failure).
type TradeRecord struct {
	ConditionID        string          `json:"condition_id"`
	TokenID            string          `json:"token_id"`
	Category           types.Category  `json:"category"`
	Side               types.Side      `json:"side"`
	Price              decimal.Decimal `json:"price"` // requested limit price
	Size               decimal.Decimal `json:"size"`  // requested size in tokens
	FillPrice          decimal.Decimal `json:"fill_price"`
	FillSize           decimal.Decimal `json:"fill_size"`
	EstimatedProfitUSD decimal.Decimal `json:"estimated_profit_usd"`
	Edge               decimal.Decimal `json:"edge"`
	Confidence         float64         `json:"confidence"`
	Success            bool            `json:"success"`
	Error              string          `json:"error,omitempty"`

	ReleasedAt time.Time `json:"released_at"` // source timestamp of the triggering event
	ReceivedAt time.Time `json:"received_at"` // when the feed observed it
	ExecutedAt time.Time `json:"executed_at"` // when the order attempt completed
}

// PnLUSD is the trade's contribution to the cumulative curve: the estimated
// profit when it filled, the full worst-case loss of price*size when it
// failed.
func (r *TradeRecord) PnLUSD() decimal.Decimal {
	if r.Success {
		return r.EstimatedProfitUSD
	}
	return r.Price.Mul(r.Size).Neg()
}

// CategoryStats aggregates outcomes per market category.
type CategoryStats struct {
	Trades         int             `json:"trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	TotalProfitUSD decimal.Decimal `json:"total_profit_usd"`
	TotalVolumeUSD decimal.Decimal `json:"total_volume_usd"`
}

// PnLPoint is one step of the cumulative profit curve.
type PnLPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	TradeUSD      decimal.Decimal `json:"trade_usd"`
	CumulativeUSD decimal.Decimal `json:"cumulative_usd"`
}

// LatencySample decomposes event-to-execution time for one filled trade.
// Total = Feed + Processing.
type LatencySample struct {
	At         time.Time     `json:"at"`
	Total      time.Duration `json:"total"`      // release -> execution
	Feed       time.Duration `json:"feed"`       // release -> local receipt
	Processing time.Duration `json:"processing"` // local receipt -> execution
}

// LatencyPercentiles summarizes the total-latency distribution.
type LatencyPercentiles struct {
	Samples int           `json:"samples"`
	Min     time.Duration `json:"min"`
	P50     time.Duration `json:"p50"`
	P90     time.Duration `json:"p90"`
	P99     time.Duration `json:"p99"`
	Max     time.Duration `json:"max"`
}

// HistogramBucket is one equal-width bin of the latency histogram.
type HistogramBucket struct {
	From  time.Duration `json:"from"`
	To    time.Duration `json:"to"`
	Count int           `json:"count"`
}

// LiquidityStats compares size captured against depth available at signal
// time, over successful trades.
type LiquidityStats struct {
	CapturedUSD  decimal.Decimal `json:"captured_usd"`
	AvailableUSD decimal.Decimal `json:"available_usd"`
	CaptureRatio float64         `json:"capture_ratio"` // 0 when nothing was available
}

// Summary is the top-line snapshot served by the status API and the daily
// report.
type Summary struct {
	Events         map[types.ArbEventType]int       `json:"events"`
	Trades         int                              `json:"trades"`
	Wins           int                              `json:"wins"`
	Losses         int                              `json:"losses"`
	WinRate        float64                          `json:"win_rate"`
	CumulativeUSD  decimal.Decimal                  `json:"cumulative_usd"`
	TotalVolumeUSD decimal.Decimal                  `json:"total_volume_usd"`
	Categories     map[types.Category]CategoryStats `json:"categories"`
	Latency        LatencyPercentiles               `json:"latency"`
	Liquidity      LiquidityStats                   `json:"liquidity"`
}

// Collector accumulates everything in memory; only the latency buffer is
// bounded (trade history is assumed small relative to runtime).
type Collector struct {
	maxLatencySamples int
	clock             types.Clock
	logger            *slog.Logger

	mu         sync.Mutex
	counters   map[types.ArbEventType]int
	trades     []TradeRecord
	categories map[types.Category]*CategoryStats
	cumulative decimal.Decimal
	curve      []PnLPoint
	latencies  []LatencySample

	capturedUSD  decimal.Decimal
	availableUSD decimal.Decimal
}

const defaultMaxLatencySamples = 10000

func NewCollector(cfg config.MetricsConfig, clock types.Clock, logger *slog.Logger) *Collector {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	max := cfg.MaxLatencySamples
	if max <= 0 {
		max = defaultMaxLatencySamples
	}
	return &Collector{
		maxLatencySamples: max,
		clock:             clock,
		logger:            logger.With("component", "metrics"),
		counters:          make(map[types.ArbEventType]int),
		categories:        make(map[types.Category]*CategoryStats),
		cumulative:        decimal.Zero,
		capturedUSD:       decimal.Zero,
		availableUSD:      decimal.Zero,
	}
}

// OnArbEvent satisfies types.ArbCallback. It never returns an error; the
// collector must not disturb the hot path.
func (c *Collector) OnArbEvent(ev types.ArbEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[ev.Type]++

	switch ev.Type {
	case types.ArbTradeExecuted, types.ArbTradeFailed:
		c.recordTrade(ev)
	}
	return nil
}

// recordTrade extracts a TradeRecord and folds it into every aggregate.
// Caller holds c.mu.
func (c *Collector) recordTrade(ev types.ArbEvent) {
	if ev.Action == nil || ev.Result == nil {
		c.logger.Warn("trade event missing action or result", "type", ev.Type)
		return
	}

	rec := TradeRecord{
		ConditionID:        ev.Action.ConditionID(),
		TokenID:            ev.Action.TokenID,
		Side:               ev.Action.Side,
		Price:              ev.Action.Price,
		Size:               ev.Action.Size,
		FillPrice:          ev.Result.FillPrice,
		FillSize:           ev.Result.FillSize,
		EstimatedProfitUSD: ev.Action.EstimatedProfitUSD,
		Success:            ev.Result.Success,
		Error:              ev.Result.Error,
		ExecutedAt:         ev.Result.ExecutedAt,
	}
	if ev.Signal != nil {
		rec.Edge = ev.Signal.Edge
		rec.Confidence = ev.Signal.Confidence
	}
	var depthUSD decimal.Decimal
	if ev.Match != nil && ev.Match.Opportunity != nil {
		rec.Category = ev.Match.Opportunity.Category
		depthUSD = ev.Match.Opportunity.DepthUSD
	}
	if ev.FeedEvent != nil {
		rec.ReleasedAt = ev.FeedEvent.ReleasedAt
		rec.ReceivedAt = ev.FeedEvent.ReceivedAt
	}
	c.trades = append(c.trades, rec)

	cat := c.categories[rec.Category]
	if cat == nil {
		cat = &CategoryStats{
			TotalProfitUSD: decimal.Zero,
			TotalVolumeUSD: decimal.Zero,
		}
		c.categories[rec.Category] = cat
	}
	cat.Trades++

	pnl := rec.PnLUSD()
	if rec.Success {
		cat.Wins++
		cat.TotalVolumeUSD = cat.TotalVolumeUSD.Add(rec.FillPrice.Mul(rec.FillSize))
		c.capturedUSD = c.capturedUSD.Add(rec.FillPrice.Mul(rec.FillSize))
		c.availableUSD = c.availableUSD.Add(depthUSD)
	} else {
		cat.Losses++
	}
	cat.TotalProfitUSD = cat.TotalProfitUSD.Add(pnl)

	c.cumulative = c.cumulative.Add(pnl)
	at := rec.ExecutedAt
	if at.IsZero() {
		at = c.clock.Now()
	}
	c.curve = append(c.curve, PnLPoint{Timestamp: at, TradeUSD: pnl, CumulativeUSD: c.cumulative})

	c.recordLatency(rec)
}

// recordLatency keeps a bounded sample of release-to-execution timing.
// Records with missing timestamps or clock skew (execution before release)
// are dropped rather than polluting the distribution.
func (c *Collector) recordLatency(rec TradeRecord) {
	if rec.ReleasedAt.IsZero() || rec.ReceivedAt.IsZero() || rec.ExecutedAt.IsZero() {
		return
	}
	if !rec.ExecutedAt.After(rec.ReleasedAt) {
		return
	}
	s := LatencySample{
		At:         rec.ExecutedAt,
		Total:      rec.ExecutedAt.Sub(rec.ReleasedAt),
		Feed:       rec.ReceivedAt.Sub(rec.ReleasedAt),
		Processing: rec.ExecutedAt.Sub(rec.ReceivedAt),
	}
	c.latencies = append(c.latencies, s)
	if over := len(c.latencies) - c.maxLatencySamples; over > 0 {
		c.latencies = c.latencies[over:]
	}
}

// EventCount returns how many events of the given type have been seen.
func (c *Collector) EventCount(t types.ArbEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[t]
}

// Trades returns a copy of the full trade history.
func (c *Collector) Trades() []TradeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TradeRecord, len(c.trades))
	copy(out, c.trades)
	return out
}

// CategoryStatsSnapshot returns per-category aggregates keyed by category.
func (c *Collector) CategoryStatsSnapshot() map[types.Category]CategoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.categorySnapshotLocked()
}

func (c *Collector) categorySnapshotLocked() map[types.Category]CategoryStats {
	out := make(map[types.Category]CategoryStats, len(c.categories))
	for k, v := range c.categories {
		out[k] = *v
	}
	return out
}

// PnLCurve returns the cumulative profit curve, one point per trade.
func (c *Collector) PnLCurve() []PnLPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PnLPoint, len(c.curve))
	copy(out, c.curve)
	return out
}

// LatencyPercentilesSnapshot computes distribution stats over the retained
// total-latency samples. Percentile selection is by index on the sorted
// slice, not interpolated.
func (c *Collector) LatencyPercentilesSnapshot() LatencyPercentiles {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latencyPercentilesLocked()
}

func (c *Collector) latencyPercentilesLocked() LatencyPercentiles {
	n := len(c.latencies)
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := make([]time.Duration, n)
	for i, s := range c.latencies {
		sorted[i] = s.Total
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(pct int) time.Duration {
		idx := (n - 1) * pct / 100
		return sorted[idx]
	}
	return LatencyPercentiles{
		Samples: n,
		Min:     sorted[0],
		P50:     at(50),
		P90:     at(90),
		P99:     at(99),
		Max:     sorted[n-1],
	}
}

// LatencyHistogram splits [min, max] of total latency into equal-width
// bins. The top bin is closed so max lands in it.
func (c *Collector) LatencyHistogram(buckets int) []HistogramBucket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if buckets <= 0 || len(c.latencies) == 0 {
		return nil
	}
	min, max := c.latencies[0].Total, c.latencies[0].Total
	for _, s := range c.latencies[1:] {
		if s.Total < min {
			min = s.Total
		}
		if s.Total > max {
			max = s.Total
		}
	}
	width := (max - min) / time.Duration(buckets)
	if width <= 0 {
		width = 1
	}
	out := make([]HistogramBucket, buckets)
	for i := range out {
		out[i].From = min + time.Duration(i)*width
		out[i].To = out[i].From + width
	}
	out[buckets-1].To = max
	for _, s := range c.latencies {
		idx := int((s.Total - min) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		out[idx].Count++
	}
	return out
}

// LiquiditySnapshot reports captured vs available dollar liquidity over
// successful trades.
func (c *Collector) LiquiditySnapshot() LiquidityStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidityLocked()
}

func (c *Collector) liquidityLocked() LiquidityStats {
	ls := LiquidityStats{CapturedUSD: c.capturedUSD, AvailableUSD: c.availableUSD}
	if c.availableUSD.IsPositive() {
		ratio, _ := c.capturedUSD.Div(c.availableUSD).Float64()
		ls.CaptureRatio = ratio
	}
	return ls
}

// Summary assembles the full snapshot under one lock acquisition.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make(map[types.ArbEventType]int, len(c.counters))
	for k, v := range c.counters {
		events[k] = v
	}

	var wins, losses int
	volume := decimal.Zero
	for _, cat := range c.categories {
		wins += cat.Wins
		losses += cat.Losses
		volume = volume.Add(cat.TotalVolumeUSD)
	}
	s := Summary{
		Events:         events,
		Trades:         len(c.trades),
		Wins:           wins,
		Losses:         losses,
		CumulativeUSD:  c.cumulative,
		TotalVolumeUSD: volume,
		Categories:     c.categorySnapshotLocked(),
		Latency:        c.latencyPercentilesLocked(),
		Liquidity:      c.liquidityLocked(),
	}
	if s.Trades > 0 {
		s.WinRate = float64(wins) / float64(s.Trades)
	}
	return s
}
