// Package exchange implements the venue REST and WebSocket clients plus the
// order pre-signing machinery.
//
// The REST client (Client) talks to two HTTP surfaces:
//   - the Gamma API for market discovery (GetAllMarkets, GetMarket), and
//   - the CLOB API for books, quotes, and order management.
//
// Order and cancel requests clear the dual-bucket write limiter and carry L2
// HMAC headers; book reads are limited separately and unauthenticated.
// Real-time books arrive through per-token WebSocket sessions managed by
// BookStreamer.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// BookCallback receives order book snapshots pushed by a WS subscription.
type BookCallback func(*types.OrderBook)

// Adapter is the execution-client surface consumed by the scanner, engine,
// and pre-sign machinery. Client implements it against the live venue; the
// paper adapter wraps one for reads and simulates the writes.
type Adapter interface {
	Connect(ctx context.Context) error
	Close() error

	GetAllMarkets(ctx context.Context) ([]types.MarketInfo, error)
	GetMarket(ctx context.Context, conditionID string) (*types.MarketInfo, error)
	GetOrderbook(ctx context.Context, tokenID string) (*types.OrderBook, error)
	GetOrderbooks(ctx context.Context, tokenIDs []string) (map[string]*types.OrderBook, error)
	GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
	GetSpread(ctx context.Context, tokenID string) (decimal.Decimal, error)

	SubscribeOrderbook(tokenID string, cb BookCallback) error
	UnsubscribeOrderbook(tokenID string) error

	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error)
	PlaceMarketOrder(ctx context.Context, req types.MarketOrderRequest) (*types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error)
	CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error)
	CancelAll(ctx context.Context) (*types.CancelResponse, error)
}

// Client is the live venue client. It wraps two resty HTTP clients with rate
// limiting, retry, and auth, and owns the per-token book subscriptions.
type Client struct {
	clob     *resty.Client // CLOB API: books, quotes, orders
	gamma    *resty.Client // Gamma API: market discovery
	auth     *Auth         // L1/L2 auth + order signing
	rl       *RateLimiter
	books    *BookStreamer
	maxPages int
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
	}

	maxPages := cfg.Scanner.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	return &Client{
		clob:     newHTTP(cfg.API.CLOBBaseURL),
		gamma:    newHTTP(cfg.API.GammaBaseURL),
		auth:     auth,
		rl:       NewRateLimiter(cfg.RateLimit.BurstPerSec, cfg.RateLimit.SustainedPerSec),
		books:    NewBookStreamer(cfg.API.WSMarketURL, logger),
		maxPages: maxPages,
		logger:   logger.With("component", "clob_client"),
	}
}

// Connect verifies venue reachability and derives L2 credentials when none
// are configured. Failure here is fatal to startup.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.clob.R().SetContext(ctx).Get("/time")
	if err != nil {
		return &types.ClobError{Kind: types.ClobKindConnection, Op: "connect", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &types.ClobError{
			Kind: types.ClobKindConnection,
			Op:   "connect",
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	// Keyless paper runs skip L2 derivation: reads are public and order
	// placement never reaches the venue.
	if c.auth != nil && !c.auth.HasL2Credentials() {
		if _, err := c.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("derive api key: %w", err)
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("venue client connected")
	return nil
}

// Close stops all book subscriptions. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.books.StopAll()
	c.logger.Info("venue client closed")
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market discovery (Gamma)
// ————————————————————————————————————————————————————————————————————————

// GammaMarket is the wire format of one market from the Gamma API. Numeric
// strings and JSON-encoded arrays are parsed out in toMarketInfo.
type GammaMarket struct {
	ID              string   `json:"id"`
	ConditionID     string   `json:"conditionId"`
	Slug            string   `json:"slug"`
	Question        string   `json:"question"`
	Active          bool     `json:"active"`
	Closed          bool     `json:"closed"`
	Flagged         bool     `json:"flagged"`
	AcceptingOrders bool     `json:"acceptingOrders"`
	EnableOrderBook bool     `json:"enableOrderBook"`
	NegRisk         bool     `json:"negRisk"`
	EndDate         string   `json:"endDate"`
	Tags            []string `json:"tags"`
	FeeRateBps      int      `json:"feeRateBps"`
	ClobTokenIds    string   `json:"clobTokenIds"` // JSON-encoded array of token IDs
	Outcomes        string   `json:"outcomes"`     // JSON-encoded array of outcome labels
}

const marketsPageSize = 100

// GetAllMarkets fetches active markets from the Gamma API, paginated. The
// page bound keeps a runaway listing from stalling a scan.
func (c *Client) GetAllMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	var out []types.MarketInfo
	for page := 0; page < c.maxPages; page++ {
		var batch []GammaMarket
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"active":    "true",
				"closed":    "false",
				"limit":     fmt.Sprintf("%d", marketsPageSize),
				"offset":    fmt.Sprintf("%d", page*marketsPageSize),
				"order":     "volume24hr",
				"ascending": "false",
			}).
			SetResult(&batch).
			Get("/markets")
		if err != nil {
			return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "get markets", Err: err}
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, clobStatusError("get markets", resp)
		}

		for _, gm := range batch {
			info, err := gm.toMarketInfo()
			if err != nil {
				c.logger.Debug("skipping unparseable market", "condition_id", gm.ConditionID, "err", err)
				continue
			}
			out = append(out, info)
		}

		if len(batch) < marketsPageSize {
			break
		}
	}
	return out, nil
}

// GetMarket fetches a single market by condition ID.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*types.MarketInfo, error) {
	var batch []GammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", conditionID).
		SetResult(&batch).
		Get("/markets")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "get market", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, clobStatusError("get market", resp)
	}
	if len(batch) == 0 {
		return nil, &types.ClobError{
			Kind: types.ClobKindOrder,
			Op:   "get market",
			Err:  fmt.Errorf("condition %s not found", conditionID),
		}
	}

	info, err := batch[0].toMarketInfo()
	if err != nil {
		return nil, fmt.Errorf("parse market %s: %w", conditionID, err)
	}
	return &info, nil
}

// toMarketInfo parses the JSON-encoded token/outcome arrays and the end date
// into the internal representation.
func (gm GammaMarket) toMarketInfo() (types.MarketInfo, error) {
	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return types.MarketInfo{}, fmt.Errorf("parse clobTokenIds: %w", err)
		}
	}
	var outcomes []string
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
			return types.MarketInfo{}, fmt.Errorf("parse outcomes: %w", err)
		}
	}
	if len(tokenIDs) == 0 || len(tokenIDs) != len(outcomes) {
		return types.MarketInfo{}, fmt.Errorf("token/outcome mismatch: %d tokens, %d outcomes", len(tokenIDs), len(outcomes))
	}

	tokens := make([]types.Token, len(tokenIDs))
	for i := range tokenIDs {
		tokens[i] = types.Token{TokenID: tokenIDs[i], Outcome: outcomes[i]}
	}

	var endDate time.Time
	if gm.EndDate != "" {
		t, err := time.Parse(time.RFC3339, gm.EndDate)
		if err == nil {
			endDate = t
		}
	}

	return types.MarketInfo{
		ConditionID:     gm.ConditionID,
		Question:        gm.Question,
		Tokens:          tokens,
		Active:          gm.Active,
		Closed:          gm.Closed,
		Flagged:         gm.Flagged,
		AcceptingOrders: gm.AcceptingOrders,
		EndDate:         endDate,
		Tags:            gm.Tags,
		NegRisk:         gm.NegRisk,
		FeeRateBps:      gm.FeeRateBps,
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Books and quotes (CLOB)
// ————————————————————————————————————————————————————————————————————————

// GetOrderbook fetches the order book for a single token.
func (c *Client) GetOrderbook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "get book", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, clobStatusError("get book", resp)
	}

	book, err := ParseBook(tokenID, &result)
	if err != nil {
		return nil, fmt.Errorf("parse book %s: %w", tokenID, err)
	}
	return book, nil
}

// GetOrderbooks fetches books for several tokens in one request.
func (c *Client) GetOrderbooks(ctx context.Context, tokenIDs []string) (map[string]*types.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]*types.OrderBook{}, nil
	}
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	params := make([]map[string]string, len(tokenIDs))
	for i, id := range tokenIDs {
		params[i] = map[string]string{"token_id": id}
	}

	var results []types.BookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetBody(params).
		SetResult(&results).
		Post("/books")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "get books", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, clobStatusError("get books", resp)
	}

	out := make(map[string]*types.OrderBook, len(results))
	for i := range results {
		r := &results[i]
		book, err := ParseBook(r.AssetID, r)
		if err != nil {
			c.logger.Debug("skipping unparseable book", "token_id", r.AssetID, "err", err)
			continue
		}
		out[r.AssetID] = book
	}
	return out, nil
}

// GetMidpoint fetches the midpoint price for a token.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var result struct {
		Mid string `json:"mid"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil {
		return decimal.Decimal{}, &types.ClobError{Kind: types.ClobKindConnection, Op: "get midpoint", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Decimal{}, clobStatusError("get midpoint", resp)
	}
	mid, err := decimal.NewFromString(result.Mid)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse midpoint %q: %w", result.Mid, err)
	}
	return mid, nil
}

// GetSpread fetches the bid/ask spread for a token.
func (c *Client) GetSpread(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var result struct {
		Spread string `json:"spread"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/spread")
	if err != nil {
		return decimal.Decimal{}, &types.ClobError{Kind: types.ClobKindConnection, Op: "get spread", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Decimal{}, clobStatusError("get spread", resp)
	}
	spread, err := decimal.NewFromString(result.Spread)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse spread %q: %w", result.Spread, err)
	}
	return spread, nil
}

// GetTickSize fetches the minimum price increment for a token.
func (c *Client) GetTickSize(ctx context.Context, tokenID string) (types.TickSize, error) {
	var result struct {
		MinimumTickSize string `json:"minimum_tick_size"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/tick-size")
	if err != nil {
		return "", &types.ClobError{Kind: types.ClobKindConnection, Op: "get tick size", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", clobStatusError("get tick size", resp)
	}
	return types.TickSize(result.MinimumTickSize), nil
}

// GetNegRisk fetches the neg-risk flag for a token, which selects the
// exchange contract orders are signed against.
func (c *Client) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	var result struct {
		NegRisk bool `json:"neg_risk"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/neg-risk")
	if err != nil {
		return false, &types.ClobError{Kind: types.ClobKindConnection, Op: "get neg risk", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return false, clobStatusError("get neg risk", resp)
	}
	return result.NegRisk, nil
}

// GetFeeRateBps fetches the taker fee in basis points for a token.
func (c *Client) GetFeeRateBps(ctx context.Context, tokenID string) (int, error) {
	var result struct {
		FeeRateBps int `json:"fee_rate_bps"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/fee-rate")
	if err != nil {
		return 0, &types.ClobError{Kind: types.ClobKindConnection, Op: "get fee rate", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, clobStatusError("get fee rate", resp)
	}
	return result.FeeRateBps, nil
}

// SubscribeOrderbook attaches a real-time book callback for a token. The
// underlying WS session is started on first subscribe.
func (c *Client) SubscribeOrderbook(tokenID string, cb BookCallback) error {
	return c.books.Subscribe(tokenID, cb)
}

// UnsubscribeOrderbook stops the token's WS session.
func (c *Client) UnsubscribeOrderbook(tokenID string) error {
	return c.books.Unsubscribe(tokenID)
}

// ————————————————————————————————————————————————————————————————————————
// Orders (CLOB)
// ————————————————————————————————————————————————————————————————————————

// PlaceOrder signs and posts a limit order.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	signed, err := c.auth.SignOrder(req)
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindOrder, Op: "place order", Err: err}
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = types.OrderTypeGTC
	}
	return c.PostSignedOrder(ctx, signed, orderType)
}

// PlaceMarketOrder signs and posts an immediate-execution (FOK) order at the
// request's worst acceptable price.
func (c *Client) PlaceMarketOrder(ctx context.Context, req types.MarketOrderRequest) (*types.OrderResponse, error) {
	signed, err := c.auth.SignOrder(types.OrderRequest{
		TokenID:    req.TokenID,
		Price:      req.WorstPrice,
		Size:       req.Size,
		Side:       req.Side,
		OrderType:  types.OrderTypeFOK,
		TickSize:   req.TickSize,
		NegRisk:    req.NegRisk,
		FeeRateBps: req.FeeRateBps,
	})
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindOrder, Op: "place market order", Err: err}
	}
	return c.PostSignedOrder(ctx, signed, types.OrderTypeFOK)
}

// PostSignedOrder posts an already-signed order. This is the path the
// pre-signed pool uses to skip signing inside the hot turn.
func (c *Client) PostSignedOrder(ctx context.Context, signed *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.rl.Write.Acquire(ctx); err != nil {
		return nil, err
	}

	payload := types.OrderPayload{
		Order:     *signed,
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "post order", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyOrderError("post order", resp)
	}

	c.logger.Info("order posted",
		"order_id", result.OrderID,
		"token_id", signed.TokenID,
		"side", signed.Side,
		"status", result.Status,
		"success", result.Success)
	return &result, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	if orderID == "" {
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Write.Acquire(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "cancel order", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyOrderError("cancel order", resp)
	}
	return &result, nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Write.Acquire(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "cancel orders", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyOrderError("cancel orders", resp)
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if err := c.rl.Write.Acquire(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "cancel all", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyOrderError("cancel all", resp)
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindConnection, Op: "derive api key", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, clobStatusError("derive api key", resp)
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// ————————————————————————————————————————————————————————————————————————
// Parsing and error classification
// ————————————————————————————————————————————————————————————————————————

// ParseBook converts a wire book into decimal levels, normalizing order:
// bids descending, asks ascending.
func ParseBook(tokenID string, r *types.BookResponse) (*types.OrderBook, error) {
	parseLevels := func(in []types.WirePriceLevel) ([]types.BookLevel, error) {
		out := make([]types.BookLevel, 0, len(in))
		for _, wl := range in {
			price, err := decimal.NewFromString(wl.Price)
			if err != nil {
				return nil, fmt.Errorf("parse price %q: %w", wl.Price, err)
			}
			size, err := decimal.NewFromString(wl.Size)
			if err != nil {
				return nil, fmt.Errorf("parse size %q: %w", wl.Size, err)
			}
			if size.IsZero() {
				continue
			}
			out = append(out, types.BookLevel{Price: price, Size: size})
		}
		return out, nil
	}

	bids, err := parseLevels(r.Bids)
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindOrder, Op: "parse book bids", Err: err}
	}
	asks, err := parseLevels(r.Asks)
	if err != nil {
		return nil, &types.ClobError{Kind: types.ClobKindOrder, Op: "parse book asks", Err: err}
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	ts := time.Now()
	if r.Timestamp != "" {
		if ms, err := decimal.NewFromString(r.Timestamp); err == nil {
			ts = time.UnixMilli(ms.IntPart())
		}
	}

	return &types.OrderBook{
		TokenID:   tokenID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}, nil
}

// clobStatusError converts a non-200 response into a typed error,
// classifying rate-limit responses by status and body text.
func clobStatusError(op string, resp *resty.Response) *types.ClobError {
	kind := types.ClobKindConnection
	if resp.StatusCode() == http.StatusTooManyRequests || containsRateLimit(resp.String()) {
		kind = types.ClobKindRateLimit
	}
	return &types.ClobError{
		Kind: kind,
		Op:   op,
		Err:  fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
	}
}

// classifyOrderError is clobStatusError for order endpoints, where a non-200
// without a throttle marker is an order rejection rather than a transport
// problem.
func classifyOrderError(op string, resp *resty.Response) *types.ClobError {
	kind := types.ClobKindOrder
	if resp.StatusCode() == http.StatusTooManyRequests || containsRateLimit(resp.String()) {
		kind = types.ClobKindRateLimit
	}
	return &types.ClobError{
		Kind: kind,
		Op:   op,
		Err:  fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
	}
}

func containsRateLimit(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests")
}
