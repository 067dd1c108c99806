// crypto.go streams venue tickers over WebSocket and emits an event when the
// primary venue's price moves past the configured threshold.
//
// Binance is the primary; Coinbase and Kraken validate. Validation is
// metadata, not a gate: a suspicious print still flows downstream flagged
// validated=false and the signal layer prices the doubt.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

const (
	VenueBinance  = "binance"
	VenueCoinbase = "coinbase"
	VenueKraken   = "kraken"

	defaultBinanceWSURL  = "wss://stream.binance.com:9443/ws"
	defaultCoinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"
	defaultKrakenWSURL   = "wss://ws.kraken.com/v2"

	tickerPingInterval = 30 * time.Second
	tickerReadTimeout  = 90 * time.Second
	tickerWriteTimeout = 10 * time.Second
	maxSessionBackoff  = 30 * time.Second
)

// ticker is one venue's latest view of a pair.
type ticker struct {
	Pair      string // canonical "BTC_USDT" form
	Exchange  string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// pairPrice is a parsed price update before timestamping.
type pairPrice struct {
	Pair  string
	Price decimal.Decimal
	At    time.Time // zero when the venue frame carries no timestamp
}

// cryptoSource owns one WebSocket session per enabled venue plus the
// baseline map move detection runs against.
type cryptoSource struct {
	cfg    config.CryptoFeedConfig
	clock  types.Clock
	logger *slog.Logger

	// venue symbol → canonical pair, per venue
	binanceSymbols  map[string]string
	coinbaseSymbols map[string]string
	krakenSymbols   map[string]string

	mu       sync.RWMutex
	tickers  map[string]map[string]ticker // exchange → pair → ticker
	baseline map[string]decimal.Decimal   // pair → price at last emission

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCrypto builds the crypto feed.
func NewCrypto(cfg config.CryptoFeedConfig, clock types.Clock, logger *slog.Logger) *Runner {
	src := &cryptoSource{
		cfg:             cfg,
		clock:           clock,
		logger:          logger.With("component", "feed_crypto"),
		binanceSymbols:  make(map[string]string, len(cfg.Pairs)),
		coinbaseSymbols: make(map[string]string, len(cfg.Pairs)),
		krakenSymbols:   make(map[string]string, len(cfg.Pairs)),
		tickers:         make(map[string]map[string]ticker),
		baseline:        make(map[string]decimal.Decimal),
	}
	if src.clock == nil {
		src.clock = types.RealClock()
	}
	for _, pair := range cfg.Pairs {
		src.binanceSymbols[binanceSymbol(pair)] = pair
		src.coinbaseSymbols[coinbaseProduct(pair)] = pair
		src.krakenSymbols[krakenSymbol(pair)] = pair
	}
	return NewRunner(src, cfg.PollInterval, clock, logger)
}

func (s *cryptoSource) FeedType() types.FeedType { return types.FeedCrypto }

// Connect spawns one streaming session per enabled venue. Sessions derive
// from an internal context so a short-lived start context cannot kill them;
// Close owns cancellation.
func (s *cryptoSource) Connect(ctx context.Context) error {
	sessCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, venue := range s.cfg.Exchanges {
		venue := strings.ToLower(venue)
		switch venue {
		case VenueBinance, VenueCoinbase, VenueKraken:
		default:
			s.logger.Warn("unknown exchange, skipping", "exchange", venue)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSession(sessCtx, venue)
		}()
	}
	return nil
}

// Close stops every session and waits for them to exit.
func (s *cryptoSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// Poll runs cross-validation and move detection over the in-memory ticker
// map. It never errors: session failures are logged and retried inside the
// sessions themselves.
func (s *cryptoSource) Poll(ctx context.Context) ([]types.FeedEvent, error) {
	now := s.clock.Now()

	var out []types.FeedEvent
	for _, pair := range s.cfg.Pairs {
		primary, ok := s.getTicker(VenueBinance, pair)
		if !ok {
			continue
		}
		validated := s.crossValidate(pair, primary.Price)

		base, seeded := s.baselineFor(pair)
		if !seeded {
			s.setBaseline(pair, primary.Price)
			continue
		}
		if base.IsZero() {
			s.setBaseline(pair, primary.Price)
			continue
		}

		changePct := primary.Price.Sub(base).Abs().
			Div(base).
			Mul(decimal.NewFromInt(100))
		if changePct.LessThan(decimal.NewFromFloat(s.cfg.PriceMoveThresholdPct)) {
			continue
		}

		s.setBaseline(pair, primary.Price)
		change, _ := changePct.Float64()
		out = append(out, types.FeedEvent{
			FeedType:     types.FeedCrypto,
			EventType:    types.FeedDataReleased,
			Indicator:    pair,
			Value:        primary.Price.String(),
			NumericValue: decimal.NullDecimal{Decimal: primary.Price, Valid: true},
			OutcomeType:  types.OutcomeNumeric,
			ReleasedAt:   primary.UpdatedAt,
			ReceivedAt:   now,
			Metadata: map[string]any{
				"pair":       pair,
				"exchange":   VenueBinance,
				"change_pct": change,
				"validated":  validated,
			},
		})
	}
	return out, nil
}

// crossValidate reports whether every validator venue with a ticker for the
// pair agrees with the primary within the validation threshold. Venues with
// no data yet do not vote.
func (s *cryptoSource) crossValidate(pair string, primary decimal.Decimal) bool {
	if primary.IsZero() {
		return false
	}
	threshold := decimal.NewFromFloat(s.cfg.ValidationThresholdPct)
	for _, venue := range s.cfg.Exchanges {
		venue = strings.ToLower(venue)
		if venue == VenueBinance {
			continue
		}
		t, ok := s.getTicker(venue, pair)
		if !ok {
			continue
		}
		diffPct := t.Price.Sub(primary).Abs().
			Div(primary).
			Mul(decimal.NewFromInt(100))
		if diffPct.GreaterThan(threshold) {
			return false
		}
	}
	return true
}

func (s *cryptoSource) getTicker(venue, pair string) (ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPair, ok := s.tickers[venue]
	if !ok {
		return ticker{}, false
	}
	t, ok := byPair[pair]
	return t, ok
}

func (s *cryptoSource) setTicker(venue string, pp pairPrice) {
	at := pp.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.mu.Lock()
	byPair, ok := s.tickers[venue]
	if !ok {
		byPair = make(map[string]ticker)
		s.tickers[venue] = byPair
	}
	byPair[pp.Pair] = ticker{Pair: pp.Pair, Exchange: venue, Price: pp.Price, UpdatedAt: at}
	s.mu.Unlock()
}

func (s *cryptoSource) baselineFor(pair string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baseline[pair]
	return b, ok
}

func (s *cryptoSource) setBaseline(pair string, price decimal.Decimal) {
	s.mu.Lock()
	s.baseline[pair] = price
	s.mu.Unlock()
}

// runSession streams one venue until the context ends, reconnecting with
// exponential backoff that resets once a dial succeeds.
func (s *cryptoSource) runSession(ctx context.Context, venue string) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := s.streamVenue(ctx, venue)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = time.Second
		}
		if err != nil {
			s.logger.Warn("venue stream ended",
				"exchange", venue, "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxSessionBackoff {
			backoff = maxSessionBackoff
		}
	}
}

// streamVenue dials, subscribes, and reads frames until the connection
// drops. The returned bool reports whether the dial succeeded, so the caller
// knows to reset its backoff.
func (s *cryptoSource) streamVenue(ctx context.Context, venue string) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.venueURL(venue), nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", venue, err)
	}
	defer conn.Close()

	frame, err := s.subscribeFrame(venue)
	if err != nil {
		return true, err
	}
	conn.SetWriteDeadline(time.Now().Add(tickerWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return true, fmt.Errorf("subscribe %s: %w", venue, err)
	}
	s.logger.Info("venue stream connected", "exchange", venue)

	var connMu sync.Mutex
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		t := time.NewTicker(tickerPingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				connMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(tickerWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				connMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return true, nil
		}
		conn.SetReadDeadline(time.Now().Add(tickerReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read %s: %w", venue, err)
		}
		for _, pp := range s.parseFrame(venue, raw) {
			s.setTicker(venue, pp)
		}
	}
}

func (s *cryptoSource) venueURL(venue string) string {
	switch venue {
	case VenueBinance:
		if s.cfg.BinanceWSURL != "" {
			return s.cfg.BinanceWSURL
		}
		return defaultBinanceWSURL
	case VenueCoinbase:
		if s.cfg.CoinbaseWSURL != "" {
			return s.cfg.CoinbaseWSURL
		}
		return defaultCoinbaseWSURL
	case VenueKraken:
		if s.cfg.KrakenWSURL != "" {
			return s.cfg.KrakenWSURL
		}
		return defaultKrakenWSURL
	}
	return ""
}

// subscribeFrame builds the venue-specific ticker subscription message.
func (s *cryptoSource) subscribeFrame(venue string) (any, error) {
	switch venue {
	case VenueBinance:
		params := make([]string, 0, len(s.cfg.Pairs))
		for _, pair := range s.cfg.Pairs {
			params = append(params, strings.ToLower(binanceSymbol(pair))+"@ticker")
		}
		return struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
			ID     int      `json:"id"`
		}{Method: "SUBSCRIBE", Params: params, ID: 1}, nil

	case VenueCoinbase:
		products := make([]string, 0, len(s.cfg.Pairs))
		for _, pair := range s.cfg.Pairs {
			products = append(products, coinbaseProduct(pair))
		}
		return struct {
			Type       string   `json:"type"`
			ProductIDs []string `json:"product_ids"`
			Channels   []string `json:"channels"`
		}{Type: "subscribe", ProductIDs: products, Channels: []string{"ticker"}}, nil

	case VenueKraken:
		symbols := make([]string, 0, len(s.cfg.Pairs))
		for _, pair := range s.cfg.Pairs {
			symbols = append(symbols, krakenSymbol(pair))
		}
		return struct {
			Method string `json:"method"`
			Params struct {
				Channel string   `json:"channel"`
				Symbol  []string `json:"symbol"`
			} `json:"params"`
		}{
			Method: "subscribe",
			Params: struct {
				Channel string   `json:"channel"`
				Symbol  []string `json:"symbol"`
			}{Channel: "ticker", Symbol: symbols},
		}, nil
	}
	return nil, fmt.Errorf("unknown venue %q", venue)
}

// parseFrame routes a raw frame to the venue parser. Unparsable frames and
// acks yield nothing.
func (s *cryptoSource) parseFrame(venue string, raw []byte) []pairPrice {
	switch venue {
	case VenueBinance:
		if pp, ok := parseBinanceTicker(raw, s.binanceSymbols); ok {
			return []pairPrice{pp}
		}
	case VenueCoinbase:
		if pp, ok := parseCoinbaseTicker(raw, s.coinbaseSymbols); ok {
			return []pairPrice{pp}
		}
	case VenueKraken:
		return parseKrakenTicker(raw, s.krakenSymbols)
	}
	return nil
}

// parseBinanceTicker reads a 24h-ticker frame: symbol s, last price c,
// event time E in epoch millis.
func parseBinanceTicker(raw []byte, symbols map[string]string) (pairPrice, bool) {
	var msg struct {
		// EventType binds the lowercase "e" key exactly; without it Go's
		// case-insensitive tag matching routes "e" into the int64 "E" field
		// and every real ticker frame fails to unmarshal.
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		LastPrice string `json:"c"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return pairPrice{}, false
	}
	pair, ok := symbols[msg.Symbol]
	if !ok || msg.LastPrice == "" {
		return pairPrice{}, false
	}
	price, err := decimal.NewFromString(msg.LastPrice)
	if err != nil {
		return pairPrice{}, false
	}
	pp := pairPrice{Pair: pair, Price: price}
	if msg.EventTime > 0 {
		pp.At = time.UnixMilli(msg.EventTime)
	}
	return pp, true
}

// parseCoinbaseTicker reads a ticker-channel frame: type, product_id, price.
func parseCoinbaseTicker(raw []byte, products map[string]string) (pairPrice, bool) {
	var msg struct {
		Type      string `json:"type"`
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return pairPrice{}, false
	}
	if msg.Type != "ticker" {
		return pairPrice{}, false
	}
	pair, ok := products[msg.ProductID]
	if !ok || msg.Price == "" {
		return pairPrice{}, false
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return pairPrice{}, false
	}
	return pairPrice{Pair: pair, Price: price}, true
}

// parseKrakenTicker reads a v2 ticker frame: channel "ticker", data entries
// with symbol and numeric last.
func parseKrakenTicker(raw []byte, symbols map[string]string) []pairPrice {
	var msg struct {
		Channel string `json:"channel"`
		Data    []struct {
			Symbol string      `json:"symbol"`
			Last   json.Number `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if msg.Channel != "ticker" {
		return nil
	}
	var out []pairPrice
	for _, d := range msg.Data {
		pair, ok := symbols[d.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(d.Last.String())
		if err != nil {
			continue
		}
		out = append(out, pairPrice{Pair: pair, Price: price})
	}
	return out
}

// binanceSymbol turns "BTC_USDT" into "BTCUSDT".
func binanceSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "_", ""))
}

// coinbaseProduct turns "BTC_USDT" into "BTC-USDT".
func coinbaseProduct(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "_", "-"))
}

// krakenSymbol turns "BTC_USDT" into "BTC/USDT".
func krakenSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "_", "/"))
}
