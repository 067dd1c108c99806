// Package strategy implements the event → trade pipeline: match a data
// release to tracked markets, rank the matches, derive a directional signal
// against the book, and size it into an executable action.
//
// The stages are pure-ish and independently testable; the engine chains them
// under its serialization mutex. Matching is category-gated (an economic
// release only matches ECONOMIC markets) and the matched token is always one
// of the opportunity's outcome tokens.
package strategy

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// thresholdRe extracts a direction keyword and numeric threshold from a
// market question, e.g. "Will CPI exceed 3.2% in June?" or "Will BTC close
// above $100,000?".
var thresholdRe = regexp.MustCompile(`(?i)(above|below|over|under|exceeds|exceed)\s+\$?([0-9]+(?:,[0-9]{3})*(?:\.[0-9]+)?)%?`)

// Matcher pairs feed events with the opportunities they resolve.
type Matcher struct {
	cfg    config.StrategyConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewMatcher builds a matcher. A nil clock means wall clock.
func NewMatcher(cfg config.StrategyConfig, clock types.Clock, logger *slog.Logger) *Matcher {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Matcher{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "matcher"),
	}
}

// Match returns every opportunity the event resolves, with target outcome
// tokens and matcher confidence. Matches below the configured confidence
// threshold are dropped.
func (m *Matcher) Match(event types.FeedEvent, opps []*types.Opportunity) []types.MatchResult {
	var out []types.MatchResult
	switch event.FeedType {
	case types.FeedEconomic:
		out = m.matchThreshold(event, opps, types.CategoryEconomic, 0.95)
	case types.FeedSports:
		out = m.matchSports(event, opps)
	case types.FeedCrypto:
		out = m.matchCrypto(event, opps)
	default:
		return nil
	}

	kept := out[:0]
	for _, match := range out {
		if match.Confidence < m.cfg.MatchConfidenceThreshold {
			m.logger.Debug("match below confidence threshold",
				"condition_id", match.Opportunity.ConditionID,
				"confidence", match.Confidence)
			continue
		}
		kept = append(kept, match)
	}
	return kept
}

// matchThreshold handles numeric releases: the question must name the
// indicator and carry a parseable threshold, and the released value decides
// which side of it resolved.
func (m *Matcher) matchThreshold(event types.FeedEvent, opps []*types.Opportunity, category types.Category, confidence float64) []types.MatchResult {
	if !event.NumericValue.Valid {
		return nil
	}
	indicator := strings.ToLower(event.Indicator)

	var out []types.MatchResult
	for _, opp := range opps {
		if opp.Category != category {
			continue
		}
		if !strings.Contains(strings.ToLower(opp.Question), indicator) {
			continue
		}
		match, ok := m.resolveThreshold(event, opp, confidence)
		if !ok {
			continue
		}
		out = append(out, match)
	}
	return out
}

// matchCrypto requires the pair's base symbol verbatim in the question
// (uppercased), then applies the same threshold logic as economic releases.
func (m *Matcher) matchCrypto(event types.FeedEvent, opps []*types.Opportunity) []types.MatchResult {
	if !event.NumericValue.Valid {
		return nil
	}
	base, _, _ := strings.Cut(event.Indicator, "_")
	if base == "" {
		return nil
	}
	base = strings.ToUpper(base)

	var out []types.MatchResult
	for _, opp := range opps {
		if opp.Category != types.CategoryCrypto {
			continue
		}
		if !strings.Contains(strings.ToUpper(opp.Question), base) {
			continue
		}
		match, ok := m.resolveThreshold(event, opp, 0.90)
		if !ok {
			continue
		}
		out = append(out, match)
	}
	return out
}

// resolveThreshold parses the question's threshold, compares the released
// value, and resolves the implied outcome token.
func (m *Matcher) resolveThreshold(event types.FeedEvent, opp *types.Opportunity, confidence float64) (types.MatchResult, bool) {
	direction, threshold, ok := parseThreshold(opp.Question)
	if !ok {
		return types.MatchResult{}, false
	}

	value := event.NumericValue.Decimal
	var outcome string
	if direction == "above" {
		if value.GreaterThan(threshold) {
			outcome = "Yes"
		} else {
			outcome = "No"
		}
	} else {
		if value.LessThan(threshold) {
			outcome = "Yes"
		} else {
			outcome = "No"
		}
	}

	token, found := opp.Market.TokenByOutcome(outcome)
	if !found {
		m.logger.Warn("no token for resolved outcome",
			"condition_id", opp.ConditionID, "outcome", outcome)
		return types.MatchResult{}, false
	}

	return types.MatchResult{
		Opportunity:   opp,
		Event:         event,
		TargetTokenID: token.TokenID,
		TargetOutcome: token.Outcome,
		Confidence:    confidence,
		Reason: fmt.Sprintf("%s=%s vs threshold %s %s → %s",
			event.Indicator, value, direction, threshold, outcome),
		MatchedAt: m.clock.Now(),
	}, true
}

// matchSports resolves game results: a SPORTS question naming either team is
// matched, and the winner picks the token.
func (m *Matcher) matchSports(event types.FeedEvent, opps []*types.Opportunity) []types.MatchResult {
	winner := event.MetaString("winner")
	if winner == "" {
		// Tie or unknown result: nothing to trade.
		return nil
	}
	home := event.MetaString("home")
	away := event.MetaString("away")

	var out []types.MatchResult
	for _, opp := range opps {
		if opp.Category != types.CategorySports {
			continue
		}
		question := strings.ToLower(opp.Question)
		if !teamInQuestion(question, home) && !teamInQuestion(question, away) {
			continue
		}

		var token types.Token
		var found bool
		if token, found = opp.Market.TokenByOutcome(winner); !found {
			outcome := "No"
			if teamInQuestion(question, winner) {
				outcome = "Yes"
			}
			if token, found = opp.Market.TokenByOutcome(outcome); !found {
				continue
			}
		}

		out = append(out, types.MatchResult{
			Opportunity:   opp,
			Event:         event,
			TargetTokenID: token.TokenID,
			TargetOutcome: token.Outcome,
			Confidence:    0.95,
			Reason:        fmt.Sprintf("%s final: %s won → %s", event.Indicator, winner, token.Outcome),
			MatchedAt:     m.clock.Now(),
		})
	}
	return out
}

// teamInQuestion tests fuzzy team presence: lowercase, leading articles
// stripped. An empty team name never matches.
func teamInQuestion(lowerQuestion, team string) bool {
	normalized := normalizeTeam(team)
	if normalized == "" {
		return false
	}
	return strings.Contains(lowerQuestion, normalized)
}

func normalizeTeam(team string) string {
	t := strings.ToLower(strings.TrimSpace(team))
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(t, article) {
			t = strings.TrimPrefix(t, article)
			break
		}
	}
	return strings.TrimSpace(t)
}

// parseThreshold extracts the normalized direction ("above"/"below") and the
// threshold value from a question. ok is false when the question carries no
// recognizable threshold.
func parseThreshold(question string) (direction string, threshold decimal.Decimal, ok bool) {
	groups := thresholdRe.FindStringSubmatch(question)
	if groups == nil {
		return "", decimal.Decimal{}, false
	}

	switch strings.ToLower(groups[1]) {
	case "above", "over", "exceed", "exceeds":
		direction = "above"
	default:
		direction = "below"
	}

	value, err := decimal.NewFromString(strings.ReplaceAll(groups[2], ",", ""))
	if err != nil {
		return "", decimal.Decimal{}, false
	}
	return direction, value, true
}
