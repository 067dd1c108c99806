package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/engine"
	"polyarb/internal/exchange"
	"polyarb/internal/paper"
	"polyarb/internal/risk"
	"polyarb/pkg/types"
)

// Check is one expectation verdict.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario string             `json:"scenario"`
	Stats    engine.Stats       `json:"stats"`
	Fills    []paper.FillRecord `json:"fills"`
	Checks   []Check            `json:"checks"`
	Passed   bool               `json:"passed"`
}

// Runner replays scenarios through a fresh engine + risk + simulator stack
// per run. Strategy, risk and paper knobs come from the supplied config.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewRunner(cfg config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger.With("component", "replay")}
}

// Run drives the scenario's events through the engine in order. The sim
// clock follows each event's receipt timestamp, so staleness checks and
// day-boundary logic behave as they did when the events were recorded.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	clock := types.NewSimClock()
	if len(sc.Events) > 0 && !sc.Events[0].ReceivedAt.IsZero() {
		clock.Set(sc.Events[0].ReceivedAt)
	}

	sim := paper.NewSimulator(r.cfg.Paper, clock, r.logger)
	for i := range sc.Books {
		sim.SyncBook(&sc.Books[i])
	}

	opps := make([]*types.Opportunity, len(sc.Opportunities))
	for i := range sc.Opportunities {
		opps[i] = &sc.Opportunities[i]
	}

	riskMon := risk.NewMonitor(r.cfg.Risk, r.cfg.Oracle, clock, r.logger)
	eng := engine.New(r.cfg.Strategy, &replayVenue{sim: sim}, staticOpps(opps), riskMon, clock, r.logger)

	var results []types.ExecutionResult
	for _, ev := range sc.Events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !ev.ReceivedAt.IsZero() {
			clock.Set(ev.ReceivedAt)
		}
		results = append(results, eng.ProcessEvent(ctx, ev)...)
	}

	report := &Report{
		Scenario: sc.Name,
		Stats:    eng.Stats(),
		Fills:    sim.Fills(),
	}
	report.Checks = evaluate(sc, report.Stats, riskMon.KillSwitch(), results)
	report.Passed = true
	for _, c := range report.Checks {
		if !c.Passed {
			report.Passed = false
			break
		}
	}
	r.logger.Info("scenario replayed",
		"scenario", sc.Name, "events", len(sc.Events),
		"executed", report.Stats.TradesExecuted, "passed", report.Passed)
	return report, nil
}

// evaluate scores the scenario's expectations against the end state.
func evaluate(sc *Scenario, stats engine.Stats, kill types.KillSwitchState, results []types.ExecutionResult) []Check {
	checks := []Check{
		countCheck("trades executed", stats.TradesExecuted, sc.Expect.TradesExecuted),
		countCheck("trades failed", stats.TradesFailed, sc.Expect.TradesFailed),
	}

	for i, want := range sc.Expect.Orders {
		name := fmt.Sprintf("order %d: %s %s @ %s", i, want.Side, want.TokenID, want.Price)
		c := Check{Name: name, Passed: matchOrder(want, results)}
		if !c.Passed {
			c.Detail = "no execution matched"
		}
		checks = append(checks, c)
	}

	killCheck := Check{Name: "kill switch", Passed: kill.Active == sc.Expect.KillSwitchActive}
	if !killCheck.Passed {
		killCheck.Detail = fmt.Sprintf("active=%v, want %v", kill.Active, sc.Expect.KillSwitchActive)
	}
	checks = append(checks, killCheck)
	return checks
}

func countCheck(name string, got, want int) Check {
	c := Check{Name: name, Passed: got == want}
	if !c.Passed {
		c.Detail = fmt.Sprintf("got %d, want %d", got, want)
	}
	return c
}

func matchOrder(want ExpectedOrder, results []types.ExecutionResult) bool {
	for _, res := range results {
		if !res.Success {
			continue
		}
		a := res.Action
		if a.TokenID != want.TokenID || a.Side != want.Side || !a.Price.Equal(want.Price) {
			continue
		}
		if !want.Size.IsZero() && !a.Size.Equal(want.Size) {
			continue
		}
		return true
	}
	return false
}

// staticOpps satisfies engine.OpportunitySource with a fixed scenario set.
type staticOpps []*types.Opportunity

func (s staticOpps) Opportunities() []*types.Opportunity { return s }

// replayVenue serves reads from the simulator's preloaded books and routes
// writes into the simulator. Nothing streams during a replay.
type replayVenue struct {
	sim *paper.Simulator
}

var _ exchange.Adapter = (*replayVenue)(nil)

func (v *replayVenue) Connect(context.Context) error { return nil }
func (v *replayVenue) Close() error                  { return nil }

func (v *replayVenue) GetAllMarkets(context.Context) ([]types.MarketInfo, error) {
	return nil, nil
}

func (v *replayVenue) GetMarket(_ context.Context, conditionID string) (*types.MarketInfo, error) {
	return nil, fmt.Errorf("market %s not recorded in scenario", conditionID)
}

func (v *replayVenue) GetOrderbook(_ context.Context, tokenID string) (*types.OrderBook, error) {
	book := v.sim.Book(tokenID)
	if book == nil {
		return nil, fmt.Errorf("book %s not recorded in scenario", tokenID)
	}
	return book, nil
}

func (v *replayVenue) GetOrderbooks(ctx context.Context, tokenIDs []string) (map[string]*types.OrderBook, error) {
	out := make(map[string]*types.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		if book := v.sim.Book(id); book != nil {
			out[id] = book
		}
	}
	return out, nil
}

func (v *replayVenue) GetMidpoint(_ context.Context, tokenID string) (decimal.Decimal, error) {
	book := v.sim.Book(tokenID)
	if book == nil {
		return decimal.Decimal{}, fmt.Errorf("book %s not recorded in scenario", tokenID)
	}
	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, fmt.Errorf("book %s has an empty side", tokenID)
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
}

func (v *replayVenue) GetSpread(_ context.Context, tokenID string) (decimal.Decimal, error) {
	book := v.sim.Book(tokenID)
	if book == nil {
		return decimal.Decimal{}, fmt.Errorf("book %s not recorded in scenario", tokenID)
	}
	spread, ok := book.SpreadValue()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("book %s has an empty side", tokenID)
	}
	return spread, nil
}

func (v *replayVenue) SubscribeOrderbook(string, exchange.BookCallback) error { return nil }
func (v *replayVenue) UnsubscribeOrderbook(string) error                      { return nil }

func (v *replayVenue) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	return v.sim.PlaceOrder(ctx, req)
}

func (v *replayVenue) PlaceMarketOrder(ctx context.Context, req types.MarketOrderRequest) (*types.OrderResponse, error) {
	return v.sim.PlaceMarketOrder(ctx, req)
}

func (v *replayVenue) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	return v.sim.CancelOrder(ctx, orderID)
}

func (v *replayVenue) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	return v.sim.CancelOrders(ctx, orderIDs)
}

func (v *replayVenue) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	return v.sim.CancelAll(ctx)
}
