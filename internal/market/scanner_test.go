package market

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/exchange"
	"polyarb/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeAdapter serves canned markets and books. Only the read and
// subscription surface matters here; order methods are stubs.
type fakeAdapter struct {
	mu           sync.Mutex
	markets      []types.MarketInfo
	books        map[string]*types.OrderBook
	marketsErr   error
	subscribed   map[string]exchange.BookCallback
	unsubscribed []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		books:      make(map[string]*types.OrderBook),
		subscribed: make(map[string]exchange.BookCallback),
	}
}

func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) Close() error                  { return nil }

func (f *fakeAdapter) GetAllMarkets(context.Context) ([]types.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketsErr != nil {
		return nil, f.marketsErr
	}
	return append([]types.MarketInfo(nil), f.markets...), nil
}

func (f *fakeAdapter) GetMarket(context.Context, string) (*types.MarketInfo, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) GetOrderbook(_ context.Context, tokenID string) (*types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[tokenID]; ok {
		return b, nil
	}
	return nil, errors.New("no book")
}

func (f *fakeAdapter) GetOrderbooks(_ context.Context, tokenIDs []string) (map[string]*types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*types.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		if b, ok := f.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (f *fakeAdapter) GetMidpoint(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, errors.New("not implemented")
}

func (f *fakeAdapter) GetSpread(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, errors.New("not implemented")
}

func (f *fakeAdapter) SubscribeOrderbook(tokenID string, cb exchange.BookCallback) error {
	f.mu.Lock()
	f.subscribed[tokenID] = cb
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) UnsubscribeOrderbook(tokenID string) error {
	f.mu.Lock()
	delete(f.subscribed, tokenID)
	f.unsubscribed = append(f.unsubscribed, tokenID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) PlaceOrder(context.Context, types.OrderRequest) (*types.OrderResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) PlaceMarketOrder(context.Context, types.MarketOrderRequest) (*types.OrderResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CancelOrder(context.Context, string) (*types.CancelResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CancelOrders(context.Context, []string) (*types.CancelResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CancelAll(context.Context) (*types.CancelResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) setMarkets(ms ...types.MarketInfo) {
	f.mu.Lock()
	f.markets = ms
	f.mu.Unlock()
}

func (f *fakeAdapter) setBook(b *types.OrderBook) {
	f.mu.Lock()
	f.books[b.TokenID] = b
	f.mu.Unlock()
}

func (f *fakeAdapter) callbackFor(tokenID string) exchange.BookCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[tokenID]
}

func (f *fakeAdapter) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubscribed)
}

type oppCollector struct {
	mu     sync.Mutex
	events []types.OpportunityEvent
}

func (c *oppCollector) callback(ev types.OpportunityEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *oppCollector) count(t types.OpportunityEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (c *oppCollector) lastOf(t types.OpportunityEventType) (types.OpportunityEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return types.OpportunityEvent{}, false
}

func testMarket(conditionID, question string, tags ...string) types.MarketInfo {
	return types.MarketInfo{
		ConditionID: conditionID,
		Question:    question,
		Tokens: []types.Token{
			{TokenID: conditionID + "-yes", Outcome: "Yes"},
			{TokenID: conditionID + "-no", Outcome: "No"},
		},
		Active:          true,
		AcceptingOrders: true,
		Tags:            tags,
	}
}

// deepBook passes the default test screen: ~$19.6k depth, $0.02 spread.
func deepBook(tokenID string) *types.OrderBook {
	return &types.OrderBook{
		TokenID: tokenID,
		Bids:    []types.BookLevel{{Price: dec("0.48"), Size: dec("20000")}},
		Asks:    []types.BookLevel{{Price: dec("0.50"), Size: dec("20000")}},
	}
}

func thinBook(tokenID string) *types.OrderBook {
	return &types.OrderBook{
		TokenID: tokenID,
		Bids:    []types.BookLevel{{Price: dec("0.48"), Size: dec("100")}},
		Asks:    []types.BookLevel{{Price: dec("0.50"), Size: dec("100")}},
	}
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		ScanInterval:      time.Minute,
		MaxTrackedMarkets: 10,
		BatchSize:         20,
		RequireActive:     true,
		MinDepthUSD:       1000,
		MaxSpread:         0.05,
		MinBidDepthUSD:    100,
		MinAskDepthUSD:    100,
	}
}

func newTestScanner(t *testing.T, fake *fakeAdapter, cfg config.ScannerConfig) (*Scanner, *types.SimClock) {
	t.Helper()
	clock := types.NewSimClock()
	clock.Set(time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC))
	return NewScanner(fake, cfg, clock, testLogger()), clock
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		m    types.MarketInfo
		want types.Category
	}{
		{"tag wins", testMarket("c1", "Will the Lakers win tonight?", "Politics"), types.CategoryPolitics},
		{"nba tag", testMarket("c2", "Some question", "NBA"), types.CategorySports},
		{"cpi keyword", testMarket("c3", "Will CPI exceed 3.2% in June?"), types.CategoryEconomic},
		{"bitcoin keyword", testMarket("c4", "Will Bitcoin trade above $100,000 this week?"), types.CategoryCrypto},
		{"team keyword", testMarket("c5", "Will the Lakers win the NBA finals?"), types.CategorySports},
		{"election keyword", testMarket("c6", "Will the incumbent win the election?"), types.CategoryPolitics},
		{"unknown tag falls to keywords", testMarket("c7", "Will unemployment fall below 4%?", "Weather"), types.CategoryEconomic},
		{"no match", testMarket("c8", "Will it rain in London tomorrow?"), types.CategoryOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.m); got != tc.want {
				t.Fatalf("Classify(%q) = %s, want %s", tc.m.Question, got, tc.want)
			}
		})
	}
}

func TestPassesFilter(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	cfg := testScannerConfig()
	cfg.MinHoursToExpiry = 1
	cfg.MaxHoursToExpiry = 168
	s, clock := newTestScanner(t, fake, cfg)
	now := clock.Now()

	ok := testMarket("m1", "Will CPI exceed 3.2%?", "economy")
	if !s.passesFilter(ok, Classify(ok), now) {
		t.Fatal("baseline market should pass")
	}

	closed := ok
	closed.Closed = true
	if s.passesFilter(closed, Classify(closed), now) {
		t.Error("closed market should be rejected")
	}

	inactive := ok
	inactive.Active = false
	if s.passesFilter(inactive, Classify(inactive), now) {
		t.Error("inactive market should be rejected under require_active")
	}

	flagged := ok
	flagged.Flagged = true
	if s.passesFilter(flagged, Classify(flagged), now) {
		t.Error("flagged market should be rejected under require_active")
	}

	soon := ok
	soon.EndDate = now.Add(30 * time.Minute)
	if s.passesFilter(soon, Classify(soon), now) {
		t.Error("market expiring inside min_hours_to_expiry should be rejected")
	}

	far := ok
	far.EndDate = now.Add(200 * time.Hour)
	if s.passesFilter(far, Classify(far), now) {
		t.Error("market beyond max_hours_to_expiry should be rejected")
	}

	inWindow := ok
	inWindow.EndDate = now.Add(48 * time.Hour)
	if !s.passesFilter(inWindow, Classify(inWindow), now) {
		t.Error("market inside the expiry window should pass")
	}

	// No scheduled expiry passes the bounds.
	if !s.passesFilter(ok, Classify(ok), now) {
		t.Error("market without end date should pass expiry bounds")
	}
}

func TestPassesFilterCategoriesAndTags(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	cfg := testScannerConfig()
	cfg.Categories = []string{"ECONOMIC", "CRYPTO"}
	cfg.ExcludeTags = []string{"parody"}
	s, clock := newTestScanner(t, fake, cfg)
	now := clock.Now()

	econ := testMarket("m1", "Will CPI exceed 3.2%?", "economy")
	if !s.passesFilter(econ, Classify(econ), now) {
		t.Error("allowed category should pass")
	}

	sports := testMarket("m2", "Will the Lakers win?", "nba")
	if s.passesFilter(sports, Classify(sports), now) {
		t.Error("category outside the allow-list should be rejected")
	}

	excluded := testMarket("m3", "Will Bitcoin hit $100k?", "crypto", "parody")
	if s.passesFilter(excluded, Classify(excluded), now) {
		t.Error("excluded tag should reject the market")
	}
}

func TestPassesFilterQuestionPatterns(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	cfg := testScannerConfig()
	cfg.QuestionPatterns = []string{`(?i)exceed`, `(?i)above \$`}
	s, clock := newTestScanner(t, fake, cfg)
	now := clock.Now()

	hit := testMarket("m1", "Will CPI exceed 3.2%?")
	if !s.passesFilter(hit, Classify(hit), now) {
		t.Error("pattern match should pass")
	}

	miss := testMarket("m2", "Will the Lakers win tonight?")
	if s.passesFilter(miss, Classify(miss), now) {
		t.Error("no pattern match should reject")
	}
}

func TestScreenBook(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	s, _ := newTestScanner(t, fake, testScannerConfig())

	if !s.screenBook(deepBook("t")) {
		t.Error("deep balanced book should pass")
	}
	if s.screenBook(thinBook("t")) {
		t.Error("thin book should fail total depth")
	}

	wide := &types.OrderBook{
		TokenID: "t",
		Bids:    []types.BookLevel{{Price: dec("0.40"), Size: dec("20000")}},
		Asks:    []types.BookLevel{{Price: dec("0.60"), Size: dec("20000")}},
	}
	if s.screenBook(wide) {
		t.Error("wide spread should fail")
	}

	oneSided := &types.OrderBook{
		TokenID: "t",
		Bids:    []types.BookLevel{{Price: dec("0.48"), Size: dec("20000")}},
	}
	if s.screenBook(oneSided) {
		t.Error("one-sided book should fail the ask depth minimum")
	}

	thinBid := &types.OrderBook{
		TokenID: "t",
		Bids:    []types.BookLevel{{Price: dec("0.48"), Size: dec("100")}},
		Asks:    []types.BookLevel{{Price: dec("0.50"), Size: dec("20000")}},
	}
	if s.screenBook(thinBid) {
		t.Error("thin bid side should fail the bid depth minimum")
	}
}

func TestScoreOpportunity(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

	opp := &types.Opportunity{
		DepthUSD: dec("10000"),
		Spread:   decimal.NullDecimal{Decimal: dec("0.01"), Valid: true},
		Market:   types.MarketInfo{EndDate: now.Add(24 * time.Hour)},
	}
	want := 0.4*1.0 + 0.3*0.9 + 0.3*(1.0-24.0/336.0)
	if got := scoreOpportunity(opp, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %f, want %f", got, want)
	}

	neutral := &types.Opportunity{
		DepthUSD: dec("5000"),
		Spread:   decimal.NullDecimal{Decimal: dec("0.02"), Valid: true},
	}
	wantNeutral := 0.4*0.5 + 0.3*0.8 + 0.3*0.5
	if got := scoreOpportunity(neutral, now); math.Abs(got-wantNeutral) > 1e-9 {
		t.Errorf("no-expiry score = %f, want %f", got, wantNeutral)
	}

	shallow := &types.Opportunity{DepthUSD: dec("1000"), Spread: neutral.Spread}
	if scoreOpportunity(shallow, now) >= scoreOpportunity(neutral, now) {
		t.Error("shallower book should score lower")
	}

	wide := &types.Opportunity{
		DepthUSD: neutral.DepthUSD,
		Spread:   decimal.NullDecimal{Decimal: dec("0.08"), Valid: true},
	}
	if scoreOpportunity(wide, now) >= scoreOpportunity(neutral, now) {
		t.Error("wider spread should score lower")
	}

	expired := &types.Opportunity{
		DepthUSD: neutral.DepthUSD,
		Spread:   neutral.Spread,
		Market:   types.MarketInfo{EndDate: now.Add(-time.Hour)},
	}
	soon := &types.Opportunity{
		DepthUSD: neutral.DepthUSD,
		Spread:   neutral.Spread,
		Market:   types.MarketInfo{EndDate: now.Add(12 * time.Hour)},
	}
	if scoreOpportunity(expired, now) >= scoreOpportunity(soon, now) {
		t.Error("expired market should score below one expiring soon")
	}
}

func TestScanOnceTracksPassingMarkets(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(
		testMarket("m1", "Will CPI exceed 3.2%?", "economy"),
		func() types.MarketInfo {
			m := testMarket("m2", "Closed market")
			m.Closed = true
			return m
		}(),
		testMarket("m3", "Will Bitcoin hit $100k?", "crypto"),
	)
	fake.setBook(deepBook("m1-yes"))
	fake.setBook(thinBook("m3-yes"))

	s, clock := newTestScanner(t, fake, testScannerConfig())
	var col oppCollector
	s.OnEvent(col.callback)

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("tracked %d opportunities, want 1", len(opps))
	}

	opp := opps[0]
	if opp.ConditionID != "m1" || opp.TokenID != "m1-yes" {
		t.Errorf("tracked %s/%s, want m1/m1-yes", opp.ConditionID, opp.TokenID)
	}
	if opp.Category != types.CategoryEconomic {
		t.Errorf("category = %s, want ECONOMIC", opp.Category)
	}
	if !opp.BestBid.Valid || !opp.BestBid.Decimal.Equal(dec("0.48")) {
		t.Errorf("best bid = %+v, want 0.48", opp.BestBid)
	}
	if !opp.FirstSeen.Equal(clock.Now()) {
		t.Errorf("FirstSeen = %v, want %v", opp.FirstSeen, clock.Now())
	}

	if got := col.count(types.OpportunityFound); got != 1 {
		t.Errorf("FOUND events = %d, want 1", got)
	}
	if fake.callbackFor("m1-yes") == nil {
		t.Error("representative token should be subscribed after FOUND")
	}
}

func TestScanTruncatesToMaxTracked(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(
		testMarket("m1", "Will CPI exceed 3.2%?", "economy"),
		testMarket("m2", "Will PPI exceed 2.0%?", "economy"),
	)
	fake.setBook(deepBook("m1-yes"))
	fake.setBook(&types.OrderBook{
		TokenID: "m2-yes",
		Bids:    []types.BookLevel{{Price: dec("0.48"), Size: dec("2000")}},
		Asks:    []types.BookLevel{{Price: dec("0.50"), Size: dec("2000")}},
	})

	cfg := testScannerConfig()
	cfg.MaxTrackedMarkets = 1
	s, _ := newTestScanner(t, fake, cfg)

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("tracked %d, want 1", len(opps))
	}
	if opps[0].ConditionID != "m1" {
		t.Errorf("kept %s, want the deeper m1", opps[0].ConditionID)
	}
}

func TestRescanUpdatesAndPreservesFirstSeen(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	fake.setBook(deepBook("m1-yes"))

	s, clock := newTestScanner(t, fake, testScannerConfig())
	var col oppCollector
	s.OnEvent(col.callback)

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	firstSeen := clock.Now()

	clock.Advance(time.Hour)
	better := deepBook("m1-yes")
	better.Bids[0].Price = dec("0.49")
	fake.setBook(better)

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("tracked %d, want 1", len(opps))
	}

	opp := opps[0]
	if !opp.FirstSeen.Equal(firstSeen) {
		t.Errorf("FirstSeen = %v, want preserved %v", opp.FirstSeen, firstSeen)
	}
	if !opp.LastUpdated.Equal(clock.Now()) {
		t.Errorf("LastUpdated = %v, want %v", opp.LastUpdated, clock.Now())
	}
	if !opp.BestBid.Decimal.Equal(dec("0.49")) {
		t.Errorf("best bid = %s, want refreshed 0.49", opp.BestBid.Decimal)
	}
	if got := col.count(types.OpportunityUpdated); got != 1 {
		t.Errorf("UPDATED events = %d, want 1", got)
	}
}

func TestLostOnDisappearance(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(
		testMarket("m1", "Will CPI exceed 3.2%?", "economy"),
		testMarket("m2", "Will PPI exceed 2.0%?", "economy"),
	)
	fake.setBook(deepBook("m1-yes"))
	fake.setBook(deepBook("m2-yes"))

	s, _ := newTestScanner(t, fake, testScannerConfig())
	var col oppCollector
	s.OnEvent(col.callback)

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(opps) != 1 || opps[0].ConditionID != "m1" {
		t.Fatalf("expected only m1 tracked, got %d", len(opps))
	}

	ev, ok := col.lastOf(types.OpportunityLost)
	if !ok {
		t.Fatal("expected a LOST event")
	}
	if ev.Opportunity.ConditionID != "m2" || ev.Reason != "dropped from scan" {
		t.Errorf("LOST = %s (%q), want m2 dropped from scan", ev.Opportunity.ConditionID, ev.Reason)
	}
	if fake.callbackFor("m2-yes") != nil {
		t.Error("lost market's token should be unsubscribed")
	}
}

func TestScanFetchFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	fake.setBook(deepBook("m1-yes"))

	s, _ := newTestScanner(t, fake, testScannerConfig())
	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	fake.mu.Lock()
	fake.marketsErr = errors.New("gamma timeout")
	fake.mu.Unlock()

	opps, err := s.ScanOnce(context.Background())
	if err == nil {
		t.Fatal("expected error from failed fetch")
	}
	if len(opps) != 1 || opps[0].ConditionID != "m1" {
		t.Errorf("snapshot should be untouched, got %d entries", len(opps))
	}
	if got := s.Opportunities(); len(got) != 1 {
		t.Errorf("tracked map should be untouched, got %d entries", len(got))
	}
}

func TestBookPushUpdatesQuotes(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	fake.setBook(deepBook("m1-yes"))

	s, clock := newTestScanner(t, fake, testScannerConfig())
	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	cb := fake.callbackFor("m1-yes")
	if cb == nil {
		t.Fatal("expected a live subscription")
	}

	clock.Advance(time.Minute)
	pushed := deepBook("m1-yes")
	pushed.Bids[0].Price = dec("0.49")
	cb(pushed)

	opps := s.Opportunities()
	if len(opps) != 1 {
		t.Fatalf("tracked %d, want 1", len(opps))
	}
	if !opps[0].BestBid.Decimal.Equal(dec("0.49")) {
		t.Errorf("best bid = %s, want 0.49 from push", opps[0].BestBid.Decimal)
	}
	if !opps[0].LastUpdated.Equal(clock.Now()) {
		t.Errorf("LastUpdated = %v, want %v", opps[0].LastUpdated, clock.Now())
	}
}

func TestBookPushEvictsOnFailedScreen(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	fake.setBook(deepBook("m1-yes"))

	s, _ := newTestScanner(t, fake, testScannerConfig())
	var col oppCollector
	s.OnEvent(col.callback)

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	cb := fake.callbackFor("m1-yes")
	if cb == nil {
		t.Fatal("expected a live subscription")
	}

	cb(thinBook("m1-yes"))

	if got := s.Opportunities(); len(got) != 0 {
		t.Fatalf("opportunity should be evicted, still tracking %d", len(got))
	}
	ev, ok := col.lastOf(types.OpportunityLost)
	if !ok {
		t.Fatal("expected a LOST event")
	}
	if ev.Reason != "liquidity screen failed on live book" {
		t.Errorf("LOST reason = %q", ev.Reason)
	}

	// The unsubscribe runs off the push path.
	deadline := time.Now().Add(2 * time.Second)
	for fake.unsubscribeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fake.unsubscribeCount() == 0 {
		t.Error("expected the evicted token to be unsubscribed")
	}
}

func TestStartRunsImmediateScan(t *testing.T) {
	t.Parallel()

	fake := newFakeAdapter()
	fake.setMarkets(testMarket("m1", "Will CPI exceed 3.2%?", "economy"))
	fake.setBook(deepBook("m1-yes"))

	cfg := testScannerConfig()
	cfg.ScanInterval = time.Hour
	s, _ := newTestScanner(t, fake, cfg)
	var col oppCollector
	s.OnEvent(col.callback)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for col.count(types.OpportunityFound) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if col.count(types.OpportunityFound) != 1 {
		t.Fatalf("FOUND events = %d, want 1 from the immediate scan", col.count(types.OpportunityFound))
	}
}
