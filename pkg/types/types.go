// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order types, market
// metadata, order book snapshots, feed events, and the pipeline records that
// chain a feed event through matching, signal generation, sizing, and
// execution. It has no dependencies on internal packages, so it can be
// imported by any layer.
//
// All prices, sizes, USD amounts, and P&L are decimal.Decimal. Binary floats
// appear only in unitless scores, confidences, and weights.
package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: fills completely immediately or cancels
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Til-Date: expires at a venue-side timestamp
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. The venue supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int32 {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int32 {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// Category classifies a market question by the kind of real-world event that
// resolves it. Matching is category-gated: economic releases only match
// ECONOMIC markets, game results only match SPORTS markets, and so on.
type Category string

const (
	CategoryEconomic Category = "ECONOMIC"
	CategorySports   Category = "SPORTS"
	CategoryCrypto   Category = "CRYPTO"
	CategoryPolitics Category = "POLITICS"
	CategoryOther    Category = "OTHER"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Token is one outcome of a binary market: the CLOB token ID plus its
// human-readable outcome label ("Yes"/"No", or a team name).
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// MarketInfo is the internal representation of a binary market, populated
// from the venue's market API during scanning. A binary market has exactly
// two outcome tokens whose prices always sum to ~$1.
type MarketInfo struct {
	ConditionID string  `json:"condition_id"` // CTF condition ID
	Question    string  `json:"question"`
	Tokens      []Token `json:"tokens"`

	Active          bool      `json:"active"`
	Closed          bool      `json:"closed"`
	Flagged         bool      `json:"flagged"` // venue-side warning flag (paused, under review)
	AcceptingOrders bool      `json:"accepting_orders"`
	EndDate         time.Time `json:"end_date"` // zero value = no scheduled expiry
	Tags            []string  `json:"tags"`

	NegRisk    bool     `json:"neg_risk"`
	FeeRateBps int      `json:"fee_rate_bps"`
	TickSize   TickSize `json:"tick_size"`
}

// TokenByOutcome returns the token whose outcome label matches, ignoring
// case. ok is false when no token matches.
func (m MarketInfo) TokenByOutcome(outcome string) (Token, bool) {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, outcome) {
			return t, true
		}
	}
	return Token{}, false
}

// Opportunity is a tracked market: MarketInfo joined with the latest order
// book and the scanner's classification and score. The scanner owns the map
// of these; everything downstream reads snapshots.
//
// FirstSeen is preserved across rescans of the same condition; LastUpdated
// advances on every mutation.
type Opportunity struct {
	ConditionID string   `json:"condition_id"`
	Question    string   `json:"question"`
	Category    Category `json:"category"`
	Tokens      []Token  `json:"tokens"`
	TokenID     string   `json:"token_id"` // representative token (first outcome)

	BestBid decimal.NullDecimal `json:"best_bid"`
	BestAsk decimal.NullDecimal `json:"best_ask"`
	Spread  decimal.NullDecimal `json:"spread"`

	DepthUSD    decimal.Decimal `json:"depth_usd"`
	BidDepthUSD decimal.Decimal `json:"bid_depth_usd"`
	AskDepthUSD decimal.Decimal `json:"ask_depth_usd"`

	Score       float64   `json:"score"` // composite rank in [0,1]
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
	FeeRateBps  int       `json:"fee_rate_bps"`

	Market MarketInfo `json:"market"`
}

// HasToken reports whether tokenID belongs to this opportunity.
func (o *Opportunity) HasToken(tokenID string) bool {
	for _, t := range o.Tokens {
		if t.TokenID == tokenID {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single bid or ask level. Decimal throughout: level prices
// and sizes participate in sizing and P&L math.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a point-in-time view of one token's book. Bids are sorted
// descending (best first), asks ascending (best first).
type OrderBook struct {
	TokenID   string      `json:"token_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the top bid. ok is false when the bid side is empty.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Decimal{}, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the top ask. ok is false when the ask side is empty.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Decimal{}, false
	}
	return b.Asks[0].Price, true
}

// SpreadValue returns bestAsk − bestBid. ok is false when either side is
// empty; callers treat that as "no spread known", which risk gates pass.
func (b *OrderBook) SpreadValue() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid), true
}

// BidDepthUSD returns Σ(price·size) across bid levels.
func (b *OrderBook) BidDepthUSD() decimal.Decimal {
	d := decimal.Zero
	for _, l := range b.Bids {
		d = d.Add(l.Price.Mul(l.Size))
	}
	return d
}

// AskDepthUSD returns Σ(price·size) across ask levels.
func (b *OrderBook) AskDepthUSD() decimal.Decimal {
	d := decimal.Zero
	for _, l := range b.Asks {
		d = d.Add(l.Price.Mul(l.Size))
	}
	return d
}

// DepthUSD returns total notional across both sides.
func (b *OrderBook) DepthUSD() decimal.Decimal {
	return b.BidDepthUSD().Add(b.AskDepthUSD())
}

// ————————————————————————————————————————————————————————————————————————
// Feed events
// ————————————————————————————————————————————————————————————————————————

// FeedType identifies the source class of a feed.
type FeedType string

const (
	FeedEconomic FeedType = "ECONOMIC"
	FeedSports   FeedType = "SPORTS"
	FeedCrypto   FeedType = "CRYPTO"
)

// FeedEventType is the lifecycle/event discriminator on FeedEvent.
type FeedEventType string

const (
	FeedDataReleased FeedEventType = "DATA_RELEASED"
	FeedConnected    FeedEventType = "FEED_CONNECTED"
	FeedDisconnected FeedEventType = "FEED_DISCONNECTED"
	FeedErrored      FeedEventType = "FEED_ERROR"
)

// OutcomeType describes the shape of a released value, which routes signal
// generation.
type OutcomeType string

const (
	OutcomeNumeric     OutcomeType = "NUMERIC"
	OutcomeBoolean     OutcomeType = "BOOLEAN"
	OutcomeCategorical OutcomeType = "CATEGORICAL"
)

// FeedEvent is the uniform event emitted by every feed. Metadata and Raw are
// opaque to the feed runtime; matchers read source-specific keys out of
// Metadata (e.g. "winner" for sports, "pair"/"validated" for crypto).
type FeedEvent struct {
	FeedType     FeedType            `json:"feed_type"`
	EventType    FeedEventType       `json:"event_type"`
	Indicator    string              `json:"indicator"` // symbolic name: "CPI", "NBA_GAME", "BTC_USDT"
	Value        string              `json:"value"`     // raw released value as text
	NumericValue decimal.NullDecimal `json:"numeric_value"`
	OutcomeType  OutcomeType         `json:"outcome_type"`
	ReleasedAt   time.Time           `json:"released_at"` // source timestamp
	ReceivedAt   time.Time           `json:"received_at"` // local observation timestamp
	Metadata     map[string]any      `json:"metadata,omitempty"`
	Raw          map[string]any      `json:"raw,omitempty"`
}

// MetaString returns Metadata[key] as a string, or "" when absent or not a
// string.
func (e *FeedEvent) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaBool returns Metadata[key] as a bool, false when absent.
func (e *FeedEvent) MetaBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	b, _ := e.Metadata[key].(bool)
	return b
}

// ————————————————————————————————————————————————————————————————————————
// Pipeline records
// ————————————————————————————————————————————————————————————————————————
// Each stage's record carries the previous stage, so a TRADE_EXECUTED event
// holds the full chain back to the originating feed event.

// MatchResult pairs a feed event with an opportunity it resolves, including
// the outcome token the event implies.
type MatchResult struct {
	Opportunity   *Opportunity `json:"opportunity"`
	Event         FeedEvent    `json:"event"`
	TargetTokenID string       `json:"target_token_id"`
	TargetOutcome string       `json:"target_outcome"` // outcome label, e.g. "Yes"
	Confidence    float64      `json:"confidence"`     // matcher confidence in [0,1]
	Reason        string       `json:"reason"`
	MatchedAt     time.Time    `json:"matched_at"`
	Priority      int          `json:"priority,omitempty"` // 1-indexed rank after prioritization, 0 = unranked
}

// Signal is a directional trading decision derived from a match and the
// current book.
type Signal struct {
	Match        MatchResult     `json:"match"`
	FairValue    decimal.Decimal `json:"fair_value"`
	Confidence   float64         `json:"confidence"`
	Direction    Side            `json:"direction"`
	Edge         decimal.Decimal `json:"edge"`          // |fair − current|
	CurrentPrice decimal.Decimal `json:"current_price"` // book price the signal was taken against
	GeneratedAt  time.Time       `json:"generated_at"`
}

// TradeAction is a sized, risk-checkable order intent.
type TradeAction struct {
	Signal             Signal          `json:"signal"`
	TokenID            string          `json:"token_id"`
	Side               Side            `json:"side"`
	Price              decimal.Decimal `json:"price"`
	Size               decimal.Decimal `json:"size"` // tokens
	OrderType          OrderType       `json:"order_type"`
	MaxSlippage        decimal.Decimal `json:"max_slippage"`
	EstimatedProfitUSD decimal.Decimal `json:"estimated_profit_usd"`
	Reason             string          `json:"reason"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SizeUSD returns the notional value of the action (price·size).
func (a *TradeAction) SizeUSD() decimal.Decimal {
	return a.Price.Mul(a.Size)
}

// ConditionID returns the condition this action trades, from the match chain.
func (a *TradeAction) ConditionID() string {
	if a.Signal.Match.Opportunity == nil {
		return ""
	}
	return a.Signal.Match.Opportunity.ConditionID
}

// ExecutionResult is the terminal pipeline record.
//
// On success FillPrice/FillSize default to the requested values; the venue
// reports true fills asynchronously and the adapter may override.
type ExecutionResult struct {
	Action     TradeAction     `json:"action"`
	Success    bool            `json:"success"`
	OrderID    string          `json:"order_id,omitempty"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	FillSize   decimal.Decimal `json:"fill_size"`
	ExecutedAt time.Time       `json:"executed_at"`
	Error      string          `json:"error,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions and risk state
// ————————————————————————————————————————————————————————————————————————

// Position is an open holding in one token. EntryPrice is the weighted
// average across same-direction fills. Size is strictly positive while the
// position exists; opposite-direction fills reduce it and delete at zero.
type Position struct {
	TokenID     string          `json:"token_id"`
	ConditionID string          `json:"condition_id"`
	Side        Side            `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Size        decimal.Decimal `json:"size"`
	OpenedAt    time.Time       `json:"opened_at"`
	LastUpdated time.Time       `json:"last_updated"`
}

// NotionalUSD returns entry_price·size.
func (p *Position) NotionalUSD() decimal.Decimal {
	return p.EntryPrice.Mul(p.Size)
}

// KillTrigger names the condition that engaged the kill switch.
type KillTrigger string

const (
	KillTriggerConsecutiveLosses KillTrigger = "CONSECUTIVE_LOSSES"
	KillTriggerErrorRate         KillTrigger = "ERROR_RATE"
	KillTriggerConnectivity      KillTrigger = "CONNECTIVITY"
	KillTriggerDailyLoss         KillTrigger = "DAILY_LOSS"
	KillTriggerManual            KillTrigger = "MANUAL"
	KillTriggerDispute           KillTrigger = "DISPUTE"
	KillTriggerOracleBlacklist   KillTrigger = "ORACLE_BLACKLIST"
)

// KillSwitchState is the externally visible state of the kill switch. The
// flag latches: once Active, new trades are blocked until an explicit reset.
type KillSwitchState struct {
	Active      bool        `json:"active"`
	Trigger     KillTrigger `json:"trigger,omitempty"`
	TriggeredAt time.Time   `json:"triggered_at,omitzero"`
	Reason      string      `json:"reason,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Oracle
// ————————————————————————————————————————————————————————————————————————

// OracleState is the resolution lifecycle of a condition at the oracle layer.
type OracleState string

const (
	OracleProposed OracleState = "PROPOSED"
	OracleDisputed OracleState = "DISPUTED"
	OracleSettled  OracleState = "SETTLED"
)

// OracleProposal tracks a condition's resolution state as reported by the
// oracle monitor's ingest methods.
type OracleProposal struct {
	ConditionID     string      `json:"condition_id"`
	State           OracleState `json:"state"`
	Proposer        string      `json:"proposer,omitempty"`
	Disputer        string      `json:"disputer,omitempty"`
	ProposedOutcome string      `json:"proposed_outcome,omitempty"`
	ProposedAt      time.Time   `json:"proposed_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// WhaleActivity is a large observed order or fill attributed to a watched
// address.
type WhaleActivity struct {
	Address     string          `json:"address"`
	ConditionID string          `json:"condition_id"`
	TokenID     string          `json:"token_id,omitempty"`
	Side        Side            `json:"side,omitempty"`
	SizeUSD     decimal.Decimal `json:"size_usd"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Venue wire structs
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the high-level limit order produced by the sizer.
// The exchange client converts it to a SignedOrder for the CLOB API.
type OrderRequest struct {
	TokenID    string
	Price      decimal.Decimal // limit price in (0,1)
	Size       decimal.Decimal // quantity in tokens
	Side       Side
	OrderType  OrderType
	TickSize   TickSize
	NegRisk    bool
	Expiration int64 // unix seconds, 0 = no expiry
	FeeRateBps int
}

// MarketOrderRequest is an immediate-execution order. WorstPrice is the
// limit including slippage allowance: the highest acceptable price for BUY,
// the lowest for SELL.
type MarketOrderRequest struct {
	TokenID    string
	Side       Side
	WorstPrice decimal.Decimal
	Size       decimal.Decimal // tokens
	TickSize   TickSize
	NegRisk    bool
	FeeRateBps int
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // FOK, GTC, GTD
}

// OrderResponse is the REST API response for an order POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// CancelResponse is returned by DELETE /order, /orders, /cancel-all.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled,omitempty"` // order ID → reason
}

// WirePriceLevel is a single book level as the CLOB API returns it. Price
// and Size are strings on the wire to preserve decimal precision; they are
// parsed into BookLevel at the client boundary.
type WirePriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Bids      []WirePriceLevel `json:"bids"`
	Asks      []WirePriceLevel `json:"asks"`
	Hash      string           `json:"hash"`
	Timestamp string           `json:"timestamp"`
	TickSize  string           `json:"tick_size"`
	NegRisk   bool             `json:"neg_risk"`
}

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string           `json:"event_type"` // always "book"
	AssetID   string           `json:"asset_id"`
	Market    string           `json:"market"` // condition ID
	Timestamp string           `json:"timestamp"`
	Hash      string           `json:"hash"`
	Buys      []WirePriceLevel `json:"buys"`  // bid levels
	Sells     []WirePriceLevel `json:"sells"` // ask levels
}

// WSSubscribeMsg is the initial subscription message sent when connecting to
// a venue WebSocket channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"`                 // "market"
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}
