package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

var testNow = time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCollector(t *testing.T, maxSamples int) (*Collector, *types.SimClock) {
	t.Helper()
	clock := types.NewSimClock()
	clock.Set(testNow)
	return NewCollector(config.MetricsConfig{MaxLatencySamples: maxSamples}, clock, nil), clock
}

// tradeEvent builds a full TRADE_EXECUTED / TRADE_FAILED chain the way the
// engine emits it.
func tradeEvent(success bool, price, size, profit string, released, received, executed time.Time) types.ArbEvent {
	feedEv := &types.FeedEvent{
		FeedType:   types.FeedEconomic,
		EventType:  types.FeedDataReleased,
		Indicator:  "CPI",
		ReleasedAt: released,
		ReceivedAt: received,
	}
	opp := &types.Opportunity{
		ConditionID: "0xcpi",
		Category:    types.CategoryEconomic,
		Tokens: []types.Token{
			{TokenID: "tok-yes", Outcome: "Yes"},
			{TokenID: "tok-no", Outcome: "No"},
		},
		DepthUSD: dec("12000"),
	}
	action := &types.TradeAction{
		Signal: types.Signal{
			Match:      types.MatchResult{Opportunity: opp, Event: *feedEv, TargetTokenID: "tok-yes"},
			Edge:       dec("0.49"),
			Confidence: 0.9,
		},
		TokenID: "tok-yes",
		Side:    types.BUY,
		Price:   dec(price),
		Size:    dec(size),
	}
	action.EstimatedProfitUSD = dec(profit)
	result := &types.ExecutionResult{
		Action:     *action,
		Success:    success,
		OrderID:    "ord-1",
		FillPrice:  dec(price),
		FillSize:   dec(size),
		ExecutedAt: executed,
	}
	if !success {
		result.Error = "simulated rejection"
		result.FillPrice = decimal.Zero
		result.FillSize = decimal.Zero
	}
	evType := types.ArbTradeExecuted
	if !success {
		evType = types.ArbTradeFailed
	}
	return types.ArbEvent{
		Type:      evType,
		Timestamp: executed,
		FeedEvent: feedEv,
		Match:     &action.Signal.Match,
		Signal:    &action.Signal,
		Action:    action,
		Result:    result,
	}
}

func TestCollectorCountsEveryEventType(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	for _, typ := range []types.ArbEventType{
		types.ArbEngineStarted,
		types.ArbMatchFound,
		types.ArbMatchFound,
		types.ArbSignalGenerated,
		types.ArbTradeSkipped,
	} {
		if err := c.OnArbEvent(types.ArbEvent{Type: typ, Timestamp: testNow}); err != nil {
			t.Fatalf("OnArbEvent(%s): %v", typ, err)
		}
	}

	if got := c.EventCount(types.ArbMatchFound); got != 2 {
		t.Errorf("MATCH_FOUND count = %d, want 2", got)
	}
	if got := c.EventCount(types.ArbEngineStarted); got != 1 {
		t.Errorf("ENGINE_STARTED count = %d, want 1", got)
	}
	if got := c.EventCount(types.ArbTradeExecuted); got != 0 {
		t.Errorf("TRADE_EXECUTED count = %d, want 0", got)
	}
}

func TestCollectorRecordsExecutedTrade(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	released := testNow
	received := testNow.Add(120 * time.Millisecond)
	executed := testNow.Add(320 * time.Millisecond)
	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", released, received, executed))

	trades := c.Trades()
	if len(trades) != 1 {
		t.Fatalf("Trades() returned %d records, want 1", len(trades))
	}
	rec := trades[0]
	if rec.ConditionID != "0xcpi" || rec.TokenID != "tok-yes" {
		t.Errorf("record identity = %s/%s, want 0xcpi/tok-yes", rec.ConditionID, rec.TokenID)
	}
	if rec.Category != types.CategoryEconomic {
		t.Errorf("category = %s, want %s", rec.Category, types.CategoryEconomic)
	}
	if !rec.Success {
		t.Error("record not marked successful")
	}
	if !rec.EstimatedProfitUSD.Equal(dec("98")) {
		t.Errorf("estimated profit = %s, want 98", rec.EstimatedProfitUSD)
	}

	cats := c.CategoryStatsSnapshot()
	econ := cats[types.CategoryEconomic]
	if econ.Trades != 1 || econ.Wins != 1 || econ.Losses != 0 {
		t.Errorf("economics stats = %+v, want 1 trade / 1 win", econ)
	}
	if !econ.TotalProfitUSD.Equal(dec("98")) {
		t.Errorf("economics profit = %s, want 98", econ.TotalProfitUSD)
	}
	// volume = fill price * fill size
	if !econ.TotalVolumeUSD.Equal(dec("90")) {
		t.Errorf("economics volume = %s, want 90", econ.TotalVolumeUSD)
	}

	curve := c.PnLCurve()
	if len(curve) != 1 {
		t.Fatalf("PnLCurve() returned %d points, want 1", len(curve))
	}
	if !curve[0].CumulativeUSD.Equal(dec("98")) {
		t.Errorf("cumulative = %s, want 98", curve[0].CumulativeUSD)
	}
	if !curve[0].Timestamp.Equal(executed) {
		t.Errorf("curve timestamp = %s, want %s", curve[0].Timestamp, executed)
	}
}

func TestCollectorFailedTradeTakesWorstCaseLoss(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow, testNow, testNow.Add(time.Second)))
	c.OnArbEvent(tradeEvent(false, "0.50", "100", "40", testNow, testNow, testNow.Add(2*time.Second)))

	curve := c.PnLCurve()
	if len(curve) != 2 {
		t.Fatalf("PnLCurve() returned %d points, want 2", len(curve))
	}
	// failure books the full premium at risk: -(0.50 * 100) = -50
	if !curve[1].TradeUSD.Equal(dec("-50")) {
		t.Errorf("failed trade pnl = %s, want -50", curve[1].TradeUSD)
	}
	if !curve[1].CumulativeUSD.Equal(dec("48")) {
		t.Errorf("cumulative after failure = %s, want 48", curve[1].CumulativeUSD)
	}

	s := c.Summary()
	if s.Trades != 2 || s.Wins != 1 || s.Losses != 1 {
		t.Errorf("summary = %d trades / %d wins / %d losses, want 2/1/1", s.Trades, s.Wins, s.Losses)
	}
	if s.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", s.WinRate)
	}
	if !s.CumulativeUSD.Equal(dec("48")) {
		t.Errorf("summary cumulative = %s, want 48", s.CumulativeUSD)
	}
}

func TestCollectorLatencyDecomposition(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	released := testNow
	received := testNow.Add(100 * time.Millisecond)
	executed := testNow.Add(350 * time.Millisecond)
	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", released, received, executed))

	p := c.LatencyPercentilesSnapshot()
	if p.Samples != 1 {
		t.Fatalf("latency samples = %d, want 1", p.Samples)
	}
	if p.Min != 350*time.Millisecond || p.Max != 350*time.Millisecond {
		t.Errorf("total latency = %s/%s, want 350ms", p.Min, p.Max)
	}

	c.mu.Lock()
	sample := c.latencies[0]
	c.mu.Unlock()
	if sample.Feed != 100*time.Millisecond {
		t.Errorf("feed latency = %s, want 100ms", sample.Feed)
	}
	if sample.Processing != 250*time.Millisecond {
		t.Errorf("processing latency = %s, want 250ms", sample.Processing)
	}
}

func TestCollectorSkipsUnusableLatencies(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	// missing release timestamp
	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", time.Time{}, testNow, testNow.Add(time.Second)))
	// execution timestamped before release (skewed upstream clock)
	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow.Add(time.Hour), testNow, testNow))

	if p := c.LatencyPercentilesSnapshot(); p.Samples != 0 {
		t.Errorf("latency samples = %d, want 0", p.Samples)
	}
	if got := len(c.Trades()); got != 2 {
		t.Errorf("trades recorded = %d, want 2 (latency skip must not drop the trade)", got)
	}
}

func TestCollectorBoundsLatencyBuffer(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 3)

	for i := 1; i <= 5; i++ {
		executed := testNow.Add(time.Duration(i*100) * time.Millisecond)
		c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow, testNow.Add(10*time.Millisecond), executed))
	}

	p := c.LatencyPercentilesSnapshot()
	if p.Samples != 3 {
		t.Fatalf("latency samples = %d, want 3 (oldest trimmed)", p.Samples)
	}
	// survivors are the newest three: 300ms, 400ms, 500ms
	if p.Min != 300*time.Millisecond {
		t.Errorf("min = %s, want 300ms", p.Min)
	}
	if p.Max != 500*time.Millisecond {
		t.Errorf("max = %s, want 500ms", p.Max)
	}
}

func TestCollectorLatencyPercentilesByIndex(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	// totals 100ms..1000ms
	for i := 1; i <= 10; i++ {
		executed := testNow.Add(time.Duration(i*100) * time.Millisecond)
		c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow, testNow.Add(time.Millisecond), executed))
	}

	p := c.LatencyPercentilesSnapshot()
	if p.Min != 100*time.Millisecond {
		t.Errorf("min = %s, want 100ms", p.Min)
	}
	if p.P50 != 500*time.Millisecond { // index (10-1)*50/100 = 4
		t.Errorf("p50 = %s, want 500ms", p.P50)
	}
	if p.P90 != 900*time.Millisecond { // index (10-1)*90/100 = 8
		t.Errorf("p90 = %s, want 900ms", p.P90)
	}
	if p.P99 != 900*time.Millisecond { // index (10-1)*99/100 = 8
		t.Errorf("p99 = %s, want 900ms", p.P99)
	}
	if p.Max != 1000*time.Millisecond {
		t.Errorf("max = %s, want 1000ms", p.Max)
	}
}

func TestCollectorLatencyHistogram(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	for _, ms := range []int{100, 150, 200, 900, 1000} {
		executed := testNow.Add(time.Duration(ms) * time.Millisecond)
		c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow, testNow.Add(time.Millisecond), executed))
	}

	buckets := c.LatencyHistogram(3)
	if len(buckets) != 3 {
		t.Fatalf("histogram returned %d buckets, want 3", len(buckets))
	}
	// width = (1000-100)/3 = 300ms: [100,400) [400,700) [700,1000]
	if buckets[0].Count != 3 {
		t.Errorf("bucket 0 count = %d, want 3", buckets[0].Count)
	}
	if buckets[1].Count != 0 {
		t.Errorf("bucket 1 count = %d, want 0", buckets[1].Count)
	}
	if buckets[2].Count != 2 {
		t.Errorf("bucket 2 count = %d, want 2", buckets[2].Count)
	}
	if buckets[2].To != 1000*time.Millisecond {
		t.Errorf("top bucket upper bound = %s, want 1000ms", buckets[2].To)
	}

	if got := c.LatencyHistogram(0); got != nil {
		t.Errorf("LatencyHistogram(0) = %v, want nil", got)
	}
}

func TestCollectorLiquidityCapture(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	c.OnArbEvent(tradeEvent(true, "0.45", "200", "98", testNow, testNow, testNow.Add(time.Second)))
	c.OnArbEvent(tradeEvent(false, "0.45", "200", "98", testNow, testNow, testNow.Add(time.Second)))

	ls := c.LiquiditySnapshot()
	// captured = 0.45*200 = 90 over one fill; failed attempts contribute nothing
	if !ls.CapturedUSD.Equal(dec("90")) {
		t.Errorf("captured = %s, want 90", ls.CapturedUSD)
	}
	if !ls.AvailableUSD.Equal(dec("12000")) {
		t.Errorf("available = %s, want 12000", ls.AvailableUSD)
	}
	if ls.CaptureRatio <= 0 || ls.CaptureRatio > 0.01 {
		t.Errorf("capture ratio = %v, want 90/12000", ls.CaptureRatio)
	}
}

func TestCollectorIgnoresMalformedTradeEvent(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(t, 0)

	c.OnArbEvent(types.ArbEvent{Type: types.ArbTradeExecuted, Timestamp: testNow})

	if got := len(c.Trades()); got != 0 {
		t.Errorf("trades recorded = %d, want 0 for event without action/result", got)
	}
	if got := c.EventCount(types.ArbTradeExecuted); got != 1 {
		t.Errorf("counter = %d, want 1 (counting is independent of extraction)", got)
	}
}
