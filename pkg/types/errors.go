package types

import "fmt"

// Error taxonomy. Every failure crossing a package boundary is one of four
// families, each with a Kind discriminator. Callers branch with errors.As:
//
//	var ce *ClobError
//	if errors.As(err, &ce) && ce.Kind == ClobKindRateLimit { ... }

// ————————————————————————————————————————————————————————————————————————
// Feed errors
// ————————————————————————————————————————————————————————————————————————

// FeedErrorKind discriminates feed failures.
type FeedErrorKind string

const (
	FeedKindConnection FeedErrorKind = "connection"
	FeedKindParse      FeedErrorKind = "parse"
	FeedKindRateLimit  FeedErrorKind = "rate_limit"
)

// FeedError is raised by feed poll/connect paths. The runner loop counts,
// logs, and swallows these; they never terminate a feed.
type FeedError struct {
	Kind FeedErrorKind
	Feed FeedType
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s %s: %v", e.Feed, e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// NewFeedConnectionError wraps a transport or HTTP-status failure.
func NewFeedConnectionError(feed FeedType, err error) *FeedError {
	return &FeedError{Kind: FeedKindConnection, Feed: feed, Err: err}
}

// NewFeedParseError wraps a malformed-payload failure.
func NewFeedParseError(feed FeedType, err error) *FeedError {
	return &FeedError{Kind: FeedKindParse, Feed: feed, Err: err}
}

// NewFeedRateLimitError wraps an upstream throttle response.
func NewFeedRateLimitError(feed FeedType, err error) *FeedError {
	return &FeedError{Kind: FeedKindRateLimit, Feed: feed, Err: err}
}

// ————————————————————————————————————————————————————————————————————————
// Venue client errors
// ————————————————————————————————————————————————————————————————————————

// ClobErrorKind discriminates venue client failures.
type ClobErrorKind string

const (
	ClobKindConnection ClobErrorKind = "connection"
	ClobKindRateLimit  ClobErrorKind = "rate_limit"
	ClobKindOrder      ClobErrorKind = "order"
	ClobKindWebSocket  ClobErrorKind = "websocket"
)

// ClobError is raised by the execution client adapter. Op names the failing
// operation ("post order", "get book").
type ClobError struct {
	Kind ClobErrorKind
	Op   string
	Err  error
}

func (e *ClobError) Error() string {
	return fmt.Sprintf("clob %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ClobError) Unwrap() error { return e.Err }

// ————————————————————————————————————————————————————————————————————————
// Risk errors
// ————————————————————————————————————————————————————————————————————————

// RiskErrorKind discriminates risk rejections.
type RiskErrorKind string

const (
	RiskKindLimitBreached    RiskErrorKind = "limit_breached"
	RiskKindKillSwitchActive RiskErrorKind = "kill_switch_active"
	RiskKindOracleRisk       RiskErrorKind = "oracle_risk"
)

// RiskError is raised when a gate or the quality filter rejects.
type RiskError struct {
	Kind   RiskErrorKind
	Reason string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk %s: %s", e.Kind, e.Reason)
}

// ————————————————————————————————————————————————————————————————————————
// Strategy errors
// ————————————————————————————————————————————————————————————————————————

// StrategyErrorKind discriminates pipeline stage failures.
type StrategyErrorKind string

const (
	StrategyKindMatch          StrategyErrorKind = "match"
	StrategyKindSignal         StrategyErrorKind = "signal"
	StrategyKindSizing         StrategyErrorKind = "sizing"
	StrategyKindPrioritization StrategyErrorKind = "prioritization"
	StrategyKindExecution      StrategyErrorKind = "execution"
)

// StrategyError is raised inside the engine pipeline. The engine converts
// execution-stage instances into failed ExecutionResults rather than
// propagating them.
type StrategyError struct {
	Kind StrategyErrorKind
	Err  error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }
