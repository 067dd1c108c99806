// Package replay runs recorded event scenarios through the paper execution
// stack and checks the outcome against declared expectations. Scenarios are
// plain JSON so fixtures can be captured from live runs or written by hand.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"polyarb/pkg/types"
)

// Scenario is one replayable session: initial books, the opportunity set the
// scanner would have been tracking, the feed events in arrival order, and
// the expected outcome.
type Scenario struct {
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Books         []types.OrderBook   `json:"books,omitempty"`
	Opportunities []types.Opportunity `json:"opportunities"`
	Events        []types.FeedEvent   `json:"events"`
	Expect        Expectations        `json:"expect"`
}

// ExpectedOrder pins one order the run must have produced. A zero Size
// matches any size.
type ExpectedOrder struct {
	TokenID string          `json:"token_id"`
	Side    types.Side      `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size,omitempty"`
}

// Expectations describe the end state a scenario must reach.
type Expectations struct {
	TradesExecuted   int             `json:"trades_executed"`
	TradesFailed     int             `json:"trades_failed"`
	Orders           []ExpectedOrder `json:"orders,omitempty"`
	KillSwitchActive bool            `json:"kill_switch_active,omitempty"`
}

// ParseScenario decodes and validates a JSON scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenario reads a scenario from a JSON file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate rejects scenarios that cannot produce a meaningful run.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("scenario %q has no events", s.Name)
	}
	for i, b := range s.Books {
		if b.TokenID == "" {
			return fmt.Errorf("scenario %q: book %d has no token_id", s.Name, i)
		}
	}
	for i, opp := range s.Opportunities {
		if opp.ConditionID == "" {
			return fmt.Errorf("scenario %q: opportunity %d has no condition_id", s.Name, i)
		}
		if len(opp.Tokens) == 0 {
			return fmt.Errorf("scenario %q: opportunity %d has no tokens", s.Name, i)
		}
	}
	for i, ord := range s.Expect.Orders {
		if ord.TokenID == "" {
			return fmt.Errorf("scenario %q: expected order %d has no token_id", s.Name, i)
		}
	}
	return nil
}
