// Package market discovers and tracks tradable opportunities.
//
// Scanner polls the venue's market listing, screens candidates for liquidity,
// classifies each by the kind of real-world event that resolves it, and keeps
// a bounded, score-ranked map of opportunities. Lifecycle transitions (found,
// updated, lost) stream to registered callbacks, and tracked tokens receive
// live book pushes so quotes stay fresh between scans.
package market

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/exchange"
	"polyarb/pkg/types"
)

// tagCategories maps lowercase venue tags to categories. First tag hit wins.
var tagCategories = map[string]types.Category{
	"economy":     types.CategoryEconomic,
	"economics":   types.CategoryEconomic,
	"inflation":   types.CategoryEconomic,
	"fed":         types.CategoryEconomic,
	"macro":       types.CategoryEconomic,
	"jobs":        types.CategoryEconomic,
	"sports":      types.CategorySports,
	"nba":         types.CategorySports,
	"nfl":         types.CategorySports,
	"mlb":         types.CategorySports,
	"nhl":         types.CategorySports,
	"soccer":      types.CategorySports,
	"crypto":      types.CategoryCrypto,
	"bitcoin":     types.CategoryCrypto,
	"ethereum":    types.CategoryCrypto,
	"politics":    types.CategoryPolitics,
	"elections":   types.CategoryPolitics,
	"geopolitics": types.CategoryPolitics,
}

// keywordHints is the ordered question-text fallback when no tag matches.
// Specific hints outrank generic ones: "election" must beat "win".
var keywordHints = []struct {
	keyword  string
	category types.Category
}{
	{"cpi", types.CategoryEconomic},
	{"inflation", types.CategoryEconomic},
	{"unemployment", types.CategoryEconomic},
	{"nonfarm", types.CategoryEconomic},
	{"payroll", types.CategoryEconomic},
	{"gdp", types.CategoryEconomic},
	{"interest rate", types.CategoryEconomic},
	{"bitcoin", types.CategoryCrypto},
	{"btc", types.CategoryCrypto},
	{"ethereum", types.CategoryCrypto},
	{"solana", types.CategoryCrypto},
	{"crypto", types.CategoryCrypto},
	{"election", types.CategoryPolitics},
	{"president", types.CategoryPolitics},
	{"senate", types.CategoryPolitics},
	{"congress", types.CategoryPolitics},
	{"super bowl", types.CategorySports},
	{"nba", types.CategorySports},
	{"nfl", types.CategorySports},
	{"mlb", types.CategorySports},
	{"nhl", types.CategorySports},
	{"playoffs", types.CategorySports},
	{"championship", types.CategorySports},
	{"game", types.CategorySports},
}

// Classify buckets a market by its tags first, then by question keywords.
func Classify(m types.MarketInfo) types.Category {
	for _, tag := range m.Tags {
		if cat, ok := tagCategories[strings.ToLower(tag)]; ok {
			return cat
		}
	}
	question := strings.ToLower(m.Question)
	for _, h := range keywordHints {
		if strings.Contains(question, h.keyword) {
			return h.category
		}
	}
	return types.CategoryOther
}

// Score weights. Components are normalized to [0,1] so the sum stays there.
const (
	depthWeight   = 0.4
	spreadWeight  = 0.3
	recencyWeight = 0.3

	depthSaturationUSD = 10_000.0
	defaultBatchSize   = 20
)

// Scanner maintains the tracked-opportunity map.
type Scanner struct {
	client exchange.Adapter
	cfg    config.ScannerConfig
	clock  types.Clock
	logger *slog.Logger

	patterns []*regexp.Regexp

	mu        sync.Mutex
	opps      map[string]*types.Opportunity // condition ID → opportunity
	byToken   map[string]string             // representative token → condition ID
	callbacks []types.OpportunityCallback
	running   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner builds a scanner over the venue adapter. Invalid question
// patterns are logged and skipped; a nil clock means wall clock.
func NewScanner(client exchange.Adapter, cfg config.ScannerConfig, clock types.Clock, logger *slog.Logger) *Scanner {
	if clock == nil {
		clock = types.RealClock()
	}
	s := &Scanner{
		client:  client,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With("component", "scanner"),
		opps:    make(map[string]*types.Opportunity),
		byToken: make(map[string]string),
	}
	for _, p := range cfg.QuestionPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			s.logger.Warn("invalid question pattern, skipping", "pattern", p, "error", err)
			continue
		}
		s.patterns = append(s.patterns, re)
	}
	return s
}

// OnEvent registers a lifecycle listener. Registration happens at wiring
// time, before Start.
func (s *Scanner) OnEvent(cb types.OpportunityCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Opportunities returns a score-descending snapshot of tracked opportunities.
// Entries are copies; mutating them does not touch scanner state.
func (s *Scanner) Opportunities() []*types.Opportunity {
	s.mu.Lock()
	out := make([]*types.Opportunity, 0, len(s.opps))
	for _, opp := range s.opps {
		c := *opp
		out = append(out, &c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Start launches the background scan loop: an immediate scan, then one per
// interval.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scanner started", "interval", s.cfg.ScanInterval, "max_tracked", s.cfg.MaxTrackedMarkets)
	return nil
}

// Stop halts the scan loop. Tracked state and subscriptions stay intact so a
// restart resumes where it left off.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	s.scanAndLog(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scanner) scanAndLog(ctx context.Context) {
	opps, err := s.ScanOnce(ctx)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return
	}
	s.logger.Info("scan complete", "tracked", len(opps))
}

// ScanOnce runs one full discovery pass and returns the fresh tracked set,
// sorted by score descending. A market-fetch failure leaves the previous
// snapshot untouched and returns it alongside the error.
func (s *Scanner) ScanOnce(ctx context.Context) ([]*types.Opportunity, error) {
	markets, err := s.client.GetAllMarkets(ctx)
	if err != nil {
		return s.Opportunities(), err
	}
	now := s.clock.Now()

	type candidate struct {
		market   types.MarketInfo
		category types.Category
	}
	candidates := make(map[string]candidate)
	var tokenIDs []string
	for _, m := range markets {
		if len(m.Tokens) == 0 {
			continue
		}
		cat := Classify(m)
		if !s.passesFilter(m, cat, now) {
			continue
		}
		rep := m.Tokens[0].TokenID
		if _, dup := candidates[rep]; dup {
			continue
		}
		candidates[rep] = candidate{market: m, category: cat}
		tokenIDs = append(tokenIDs, rep)
	}

	books := s.fetchBooks(ctx, tokenIDs)

	fresh := make([]*types.Opportunity, 0, len(books))
	for tok, c := range candidates {
		book, ok := books[tok]
		if !ok {
			continue
		}
		if !s.screenBook(book) {
			continue
		}
		fresh = append(fresh, s.buildOpportunity(c.market, c.category, book, now))
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Score > fresh[j].Score })
	if len(fresh) > s.cfg.MaxTrackedMarkets {
		fresh = fresh[:s.cfg.MaxTrackedMarkets]
	}

	s.reconcile(fresh, now)

	out := make([]*types.Opportunity, len(fresh))
	for i, opp := range fresh {
		c := *opp
		out[i] = &c
	}
	return out, nil
}

// passesFilter applies the pre-book screens: activity, category allow-list,
// tag allow/deny, question patterns, expiry bounds. Markets with no
// scheduled expiry pass the expiry bounds.
func (s *Scanner) passesFilter(m types.MarketInfo, cat types.Category, now time.Time) bool {
	if m.Closed {
		return false
	}
	if s.cfg.RequireActive && (!m.Active || !m.AcceptingOrders || m.Flagged) {
		return false
	}

	if len(s.cfg.Categories) > 0 {
		allowed := false
		for _, c := range s.cfg.Categories {
			if strings.EqualFold(c, string(cat)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(s.cfg.IncludeTags) > 0 && !hasAnyTag(m.Tags, s.cfg.IncludeTags) {
		return false
	}
	if len(s.cfg.ExcludeTags) > 0 && hasAnyTag(m.Tags, s.cfg.ExcludeTags) {
		return false
	}

	if len(s.patterns) > 0 {
		matched := false
		for _, re := range s.patterns {
			if re.MatchString(m.Question) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if !m.EndDate.IsZero() {
		hours := m.EndDate.Sub(now).Hours()
		if hours < s.cfg.MinHoursToExpiry {
			return false
		}
		if s.cfg.MaxHoursToExpiry > 0 && hours > s.cfg.MaxHoursToExpiry {
			return false
		}
	}

	return true
}

func hasAnyTag(tags, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

// screenBook applies the liquidity screen to a live book. An unknown spread
// (one-sided book) passes the spread check; the directional depth minimums
// catch empty sides.
func (s *Scanner) screenBook(book *types.OrderBook) bool {
	if book.DepthUSD().LessThan(decimal.NewFromFloat(s.cfg.MinDepthUSD)) {
		return false
	}
	if s.cfg.MaxSpread > 0 {
		if spread, ok := book.SpreadValue(); ok && spread.GreaterThan(decimal.NewFromFloat(s.cfg.MaxSpread)) {
			return false
		}
	}
	if book.BidDepthUSD().LessThan(decimal.NewFromFloat(s.cfg.MinBidDepthUSD)) {
		return false
	}
	if book.AskDepthUSD().LessThan(decimal.NewFromFloat(s.cfg.MinAskDepthUSD)) {
		return false
	}
	return true
}

// fetchBooks loads order books for the candidate tokens in concurrent
// batches. Batch failures are logged and skipped; the scan is best-effort.
func (s *Scanner) fetchBooks(ctx context.Context, tokenIDs []string) map[string]*types.OrderBook {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	books := make(map[string]*types.OrderBook, len(tokenIDs))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for start := 0; start < len(tokenIDs); start += batchSize {
		end := start + batchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		ids := tokenIDs[start:end]

		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.client.GetOrderbooks(ctx, ids)
			if err != nil {
				s.logger.Warn("book batch failed", "tokens", len(ids), "error", err)
				return
			}
			mu.Lock()
			for id, b := range got {
				books[id] = b
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return books
}

func (s *Scanner) buildOpportunity(m types.MarketInfo, cat types.Category, book *types.OrderBook, now time.Time) *types.Opportunity {
	opp := &types.Opportunity{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Category:    cat,
		Tokens:      m.Tokens,
		TokenID:     m.Tokens[0].TokenID,
		FeeRateBps:  m.FeeRateBps,
		FirstSeen:   now,
		LastUpdated: now,
		Market:      m,
	}
	applyBook(opp, book)
	opp.Score = scoreOpportunity(opp, now)
	return opp
}

// applyBook refreshes the opportunity's cached quote fields from a book.
func applyBook(opp *types.Opportunity, book *types.OrderBook) {
	opp.BestBid = decimal.NullDecimal{}
	if bid, ok := book.BestBid(); ok {
		opp.BestBid = decimal.NullDecimal{Decimal: bid, Valid: true}
	}
	opp.BestAsk = decimal.NullDecimal{}
	if ask, ok := book.BestAsk(); ok {
		opp.BestAsk = decimal.NullDecimal{Decimal: ask, Valid: true}
	}
	opp.Spread = decimal.NullDecimal{}
	if spread, ok := book.SpreadValue(); ok {
		opp.Spread = decimal.NullDecimal{Decimal: spread, Valid: true}
	}
	opp.DepthUSD = book.DepthUSD()
	opp.BidDepthUSD = book.BidDepthUSD()
	opp.AskDepthUSD = book.AskDepthUSD()
}

// scoreOpportunity composes the rank in [0,1]: depth linear to saturation,
// spread penalized at 10x, recency favoring markets expiring within a week.
// Unknown spread and missing expiry are neutral at 0.5.
func scoreOpportunity(opp *types.Opportunity, now time.Time) float64 {
	depth, _ := opp.DepthUSD.Float64()
	depthScore := math.Min(depth/depthSaturationUSD, 1.0)

	spreadScore := 0.5
	if opp.Spread.Valid {
		sp, _ := opp.Spread.Decimal.Float64()
		spreadScore = math.Max(1.0-sp*10.0, 0)
	}

	recencyScore := 0.5
	if !opp.Market.EndDate.IsZero() {
		hours := opp.Market.EndDate.Sub(now).Hours()
		if hours <= 0 {
			recencyScore = 0
		} else {
			// 1.0 at expiry, 0.5 at one week out, floor 0 at two weeks.
			recencyScore = math.Max(1.0-hours/336.0, 0)
		}
	}

	return depthWeight*depthScore + spreadWeight*spreadScore + recencyWeight*recencyScore
}

// reconcile swaps in the fresh map and emits lifecycle transitions: FOUND
// subscribes the representative token, UPDATED preserves FirstSeen, LOST
// unsubscribes.
func (s *Scanner) reconcile(fresh []*types.Opportunity, now time.Time) {
	newOpps := make(map[string]*types.Opportunity, len(fresh))
	newTok := make(map[string]string, len(fresh))
	for _, opp := range fresh {
		newOpps[opp.ConditionID] = opp
		newTok[opp.TokenID] = opp.ConditionID
	}

	var events []types.OpportunityEvent
	var subscribe, unsubscribe []string

	s.mu.Lock()
	for id, opp := range newOpps {
		if prev, ok := s.opps[id]; ok {
			opp.FirstSeen = prev.FirstSeen
			events = append(events, types.OpportunityEvent{
				Type: types.OpportunityUpdated, Timestamp: now, Opportunity: opp,
			})
		} else {
			events = append(events, types.OpportunityEvent{
				Type: types.OpportunityFound, Timestamp: now, Opportunity: opp,
			})
			subscribe = append(subscribe, opp.TokenID)
		}
	}
	for id, old := range s.opps {
		if _, ok := newOpps[id]; !ok {
			events = append(events, types.OpportunityEvent{
				Type: types.OpportunityLost, Timestamp: now, Opportunity: old,
				Reason: "dropped from scan",
			})
			unsubscribe = append(unsubscribe, old.TokenID)
		}
	}
	s.opps = newOpps
	s.byToken = newTok
	s.mu.Unlock()

	for _, tok := range subscribe {
		if err := s.client.SubscribeOrderbook(tok, s.onBookUpdate); err != nil {
			s.logger.Warn("book subscribe failed", "token_id", tok, "error", err)
		}
	}
	for _, tok := range unsubscribe {
		if err := s.client.UnsubscribeOrderbook(tok); err != nil {
			s.logger.Warn("book unsubscribe failed", "token_id", tok, "error", err)
		}
	}
	for _, ev := range events {
		s.emit(ev)
	}
}

// onBookUpdate handles a live book push for a tracked token. A book that
// fails the liquidity screen evicts the opportunity immediately instead of
// waiting for the next scan cycle.
func (s *Scanner) onBookUpdate(book *types.OrderBook) {
	now := s.clock.Now()

	s.mu.Lock()
	condID, ok := s.byToken[book.TokenID]
	if !ok {
		s.mu.Unlock()
		return
	}
	opp := s.opps[condID]
	if opp == nil {
		s.mu.Unlock()
		return
	}

	if !s.screenBook(book) {
		delete(s.opps, condID)
		delete(s.byToken, book.TokenID)
		s.mu.Unlock()

		// The callback runs on the session's read loop; a synchronous
		// unsubscribe would wait on that same loop.
		go func(tok string) {
			if err := s.client.UnsubscribeOrderbook(tok); err != nil {
				s.logger.Warn("book unsubscribe failed", "token_id", tok, "error", err)
			}
		}(book.TokenID)

		s.emit(types.OpportunityEvent{
			Type: types.OpportunityLost, Timestamp: now, Opportunity: opp,
			Reason: "liquidity screen failed on live book",
		})
		return
	}

	applyBook(opp, book)
	opp.LastUpdated = now
	opp.Score = scoreOpportunity(opp, now)
	s.mu.Unlock()
}

func (s *Scanner) emit(ev types.OpportunityEvent) {
	s.mu.Lock()
	cbs := make([]types.OpportunityCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.Unlock()

	for _, cb := range cbs {
		if err := cb(ev); err != nil {
			s.logger.Error("opportunity callback failed",
				"type", ev.Type,
				"condition_id", ev.Opportunity.ConditionID,
				"error", err)
		}
	}
}
