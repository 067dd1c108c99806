package strategy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

var testNow = time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

func testClock() *types.SimClock {
	c := types.NewSimClock()
	c.Set(testNow)
	return c
}

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		MatchConfidenceThreshold: 0.9,
		MaxStaleness:             30 * time.Second,
		MinEdge:                  0.05,
		BaseSizeUSD:              100,
		MaxSizeUSD:               1000,
		MinProfitUSD:             10,
		MaxSlippage:              0.05,
		MaxTradesPerEvent:        3,
		CooldownPeriod:           5 * time.Minute,
		OpportunityWeight:        0.3,
		ConfidenceWeight:         0.3,
		EdgeWeight:               0.2,
		CategoryWeight:           0.2,
		CategoryWeights: map[string]float64{
			"ECONOMIC": 1.0,
			"SPORTS":   0.8,
			"CRYPTO":   0.6,
		},
	}
}

// opportunity builds a tracked Yes/No market quoted 0.48/0.50 with $4k depth
// per side.
func opportunity(conditionID, question string, cat types.Category) *types.Opportunity {
	return opportunityWithTokens(conditionID, question, cat, []types.Token{
		{TokenID: conditionID + "-yes", Outcome: "Yes"},
		{TokenID: conditionID + "-no", Outcome: "No"},
	})
}

func opportunityWithTokens(conditionID, question string, cat types.Category, tokens []types.Token) *types.Opportunity {
	market := types.MarketInfo{
		ConditionID: conditionID,
		Question:    question,
		Tokens:      tokens,
	}
	return &types.Opportunity{
		ConditionID: conditionID,
		Question:    question,
		Category:    cat,
		Tokens:      tokens,
		TokenID:     tokens[0].TokenID,
		BestBid:     nd("0.48"),
		BestAsk:     nd("0.50"),
		Spread:      nd("0.02"),
		DepthUSD:    dec("8000"),
		BidDepthUSD: dec("4000"),
		AskDepthUSD: dec("4000"),
		Score:       0.8,
		Market:      market,
	}
}

func econEvent(indicator, value string) types.FeedEvent {
	return types.FeedEvent{
		FeedType:     types.FeedEconomic,
		EventType:    types.FeedDataReleased,
		Indicator:    indicator,
		Value:        value,
		NumericValue: nd(value),
		OutcomeType:  types.OutcomeNumeric,
		ReleasedAt:   testNow,
		ReceivedAt:   testNow,
	}
}

func sportsEvent(winner, home, away string) types.FeedEvent {
	return types.FeedEvent{
		FeedType:    types.FeedSports,
		EventType:   types.FeedDataReleased,
		Indicator:   "NBA_GAME",
		OutcomeType: types.OutcomeCategorical,
		ReleasedAt:  testNow,
		ReceivedAt:  testNow,
		Metadata:    map[string]any{"winner": winner, "home": home, "away": away},
	}
}

func cryptoEvent(pair, price string, validated bool) types.FeedEvent {
	return types.FeedEvent{
		FeedType:     types.FeedCrypto,
		EventType:    types.FeedDataReleased,
		Indicator:    pair,
		Value:        price,
		NumericValue: nd(price),
		OutcomeType:  types.OutcomeNumeric,
		ReleasedAt:   testNow,
		ReceivedAt:   testNow,
		Metadata:     map[string]any{"pair": pair, "validated": validated},
	}
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return NewMatcher(testStrategyConfig(), testClock(), testLogger())
}

func TestMatchEconomicThreshold(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	opp := opportunity("cpi-june", "Will CPI exceed 3.2% in June?", types.CategoryEconomic)

	matches := m.Match(econEvent("CPI", "3.5"), []*types.Opportunity{opp})
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	got := matches[0]
	if got.TargetOutcome != "Yes" || got.TargetTokenID != "cpi-june-yes" {
		t.Errorf("target = %s/%s, want Yes/cpi-june-yes", got.TargetOutcome, got.TargetTokenID)
	}
	if got.Confidence != 0.95 {
		t.Errorf("confidence = %f, want 0.95", got.Confidence)
	}
	if !got.Opportunity.HasToken(got.TargetTokenID) {
		t.Error("target token must belong to the matched opportunity")
	}

	// Released value under the threshold resolves No.
	matches = m.Match(econEvent("CPI", "3.0"), []*types.Opportunity{opp})
	if len(matches) != 1 || matches[0].TargetOutcome != "No" {
		t.Fatalf("under-threshold release should target No, got %+v", matches)
	}
}

func TestMatchEconomicBelowDirection(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	opp := opportunity("unemp", "Will unemployment fall below 4% this year?", types.CategoryEconomic)

	matches := m.Match(econEvent("UNEMPLOYMENT", "3.8"), []*types.Opportunity{opp})
	if len(matches) != 1 || matches[0].TargetOutcome != "Yes" {
		t.Fatalf("3.8 below 4 should target Yes, got %+v", matches)
	}

	matches = m.Match(econEvent("UNEMPLOYMENT", "4.3"), []*types.Opportunity{opp})
	if len(matches) != 1 || matches[0].TargetOutcome != "No" {
		t.Fatalf("4.3 below 4 should target No, got %+v", matches)
	}
}

func TestMatchEconomicSkips(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	noThreshold := opportunity("c1", "Will the CPI print move markets?", types.CategoryEconomic)
	if got := m.Match(econEvent("CPI", "3.5"), []*types.Opportunity{noThreshold}); len(got) != 0 {
		t.Errorf("question without threshold should not match, got %d", len(got))
	}

	wrongCategory := opportunity("c2", "Will CPI exceed 3.2%?", types.CategoryCrypto)
	if got := m.Match(econEvent("CPI", "3.5"), []*types.Opportunity{wrongCategory}); len(got) != 0 {
		t.Errorf("category mismatch should not match, got %d", len(got))
	}

	otherIndicator := opportunity("c3", "Will PPI exceed 2.0%?", types.CategoryEconomic)
	if got := m.Match(econEvent("CPI", "3.5"), []*types.Opportunity{otherIndicator}); len(got) != 0 {
		t.Errorf("indicator absent from question should not match, got %d", len(got))
	}

	noValue := econEvent("CPI", "3.5")
	noValue.NumericValue = decimal.NullDecimal{}
	good := opportunity("c4", "Will CPI exceed 3.2%?", types.CategoryEconomic)
	if got := m.Match(noValue, []*types.Opportunity{good}); got != nil {
		t.Errorf("event without numeric value should not match, got %d", len(got))
	}
}

func TestMatchConfidenceThresholdFilters(t *testing.T) {
	t.Parallel()

	cfg := testStrategyConfig()
	cfg.MatchConfidenceThreshold = 0.96
	m := NewMatcher(cfg, testClock(), testLogger())

	opp := opportunity("cpi", "Will CPI exceed 3.2%?", types.CategoryEconomic)
	if got := m.Match(econEvent("CPI", "3.5"), []*types.Opportunity{opp}); len(got) != 0 {
		t.Errorf("0.95 confidence should be dropped under a 0.96 threshold, got %d", len(got))
	}
}

func TestMatchSports(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	event := sportsEvent("Los Angeles Lakers", "Los Angeles Lakers", "Boston Celtics")

	// Winner's name in the question resolves Yes.
	yesOpp := opportunity("g1", "Will the Los Angeles Lakers win on Friday?", types.CategorySports)
	matches := m.Match(event, []*types.Opportunity{yesOpp})
	if len(matches) != 1 || matches[0].TargetOutcome != "Yes" {
		t.Fatalf("winner in question should target Yes, got %+v", matches)
	}

	// Loser-framed question resolves No.
	noOpp := opportunity("g2", "Will the Boston Celtics win the 2025 finals?", types.CategorySports)
	matches = m.Match(event, []*types.Opportunity{noOpp})
	if len(matches) != 1 || matches[0].TargetOutcome != "No" {
		t.Fatalf("winner absent from question should target No, got %+v", matches)
	}

	// Team-labelled outcome tokens resolve directly to the winner's token.
	teamOpp := opportunityWithTokens("g3", "Los Angeles Lakers vs Boston Celtics: series winner?", types.CategorySports, []types.Token{
		{TokenID: "t-lal", Outcome: "Los Angeles Lakers"},
		{TokenID: "t-bos", Outcome: "Boston Celtics"},
	})
	matches = m.Match(event, []*types.Opportunity{teamOpp})
	if len(matches) != 1 || matches[0].TargetTokenID != "t-lal" {
		t.Fatalf("winner-labelled token should be targeted, got %+v", matches)
	}

	// Neither team in the question: no match.
	unrelated := opportunity("g4", "Will the Miami Heat win tonight?", types.CategorySports)
	if got := m.Match(event, []*types.Opportunity{unrelated}); len(got) != 0 {
		t.Errorf("unrelated game should not match, got %d", len(got))
	}

	// Tie carries no winner and matches nothing.
	tie := sportsEvent("", "Los Angeles Lakers", "Boston Celtics")
	if got := m.Match(tie, []*types.Opportunity{yesOpp}); got != nil {
		t.Errorf("tie should not match, got %d", len(got))
	}
}

func TestTeamNormalizationStripsArticles(t *testing.T) {
	t.Parallel()

	if got := normalizeTeam("The Athletics"); got != "athletics" {
		t.Errorf("normalizeTeam = %q, want athletics", got)
	}
	if !teamInQuestion("will the athletics win the world series?", "The Athletics") {
		t.Error("article-stripped team should be found in question")
	}
	if teamInQuestion("will the athletics win?", "") {
		t.Error("empty team name must never match")
	}
}

func TestMatchCrypto(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	opp := opportunity("btc-100k", "Will BTC close above $100,000 this week?", types.CategoryCrypto)

	matches := m.Match(cryptoEvent("BTC_USDT", "104000", true), []*types.Opportunity{opp})
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].TargetOutcome != "Yes" || matches[0].Confidence != 0.90 {
		t.Errorf("got outcome %s confidence %f, want Yes 0.90",
			matches[0].TargetOutcome, matches[0].Confidence)
	}

	matches = m.Match(cryptoEvent("BTC_USDT", "95000", true), []*types.Opportunity{opp})
	if len(matches) != 1 || matches[0].TargetOutcome != "No" {
		t.Fatalf("below-threshold price should target No, got %+v", matches)
	}

	// The base symbol must appear verbatim; "Bitcoin" does not contain "BTC".
	spelled := opportunity("btc-spelled", "Will Bitcoin stay above $100,000?", types.CategoryCrypto)
	if got := m.Match(cryptoEvent("BTC_USDT", "104000", true), []*types.Opportunity{spelled}); len(got) != 0 {
		t.Errorf("spelled-out name should not satisfy the base-symbol check, got %d", len(got))
	}
}

func TestParseThreshold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		question  string
		direction string
		value     string
		ok        bool
	}{
		{"Will CPI exceed 3.2% in June?", "above", "3.2", true},
		{"Will unemployment fall below 4%?", "below", "4", true},
		{"Will BTC close above $100,000?", "above", "100000", true},
		{"Will volume go over 250 today?", "above", "250", true},
		{"Will turnout stay under 10?", "below", "10", true},
		{"Will it rain tomorrow?", "", "", false},
	}
	for _, tc := range cases {
		direction, value, ok := parseThreshold(tc.question)
		if ok != tc.ok {
			t.Errorf("parseThreshold(%q) ok = %v, want %v", tc.question, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if direction != tc.direction || !value.Equal(dec(tc.value)) {
			t.Errorf("parseThreshold(%q) = %s %s, want %s %s",
				tc.question, direction, value, tc.direction, tc.value)
		}
	}
}
