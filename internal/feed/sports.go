// sports.go polls league scoreboards and emits one event per game that
// finishes while the feed is watching.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

type scoreboardResponse struct {
	Events []scoreboardEvent `json:"events"`
}

type scoreboardEvent struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status struct {
		Type struct {
			Name      string `json:"name"` // e.g. "STATUS_FINAL"
			Completed bool   `json:"completed"`
		} `json:"type"`
	} `json:"status"`
	Competitions []struct {
		Competitors []scoreboardCompetitor `json:"competitors"`
	} `json:"competitions"`
}

type scoreboardCompetitor struct {
	HomeAway string `json:"homeAway"` // "home" or "away"
	Team     struct {
		DisplayName string `json:"displayName"`
	} `json:"team"`
	Score string `json:"score"`
}

// gameResult is the flattened view of one scoreboard event.
type gameResult struct {
	GameID    string
	League    string
	Status    string
	Home      string
	Away      string
	HomeScore string
	AwayScore string
	Winner    string // empty on tie
	Date      string
}

// sportsSource polls one scoreboard per configured league and tracks
// per-game status across polls.
type sportsSource struct {
	cfg    config.SportsFeedConfig
	http   *resty.Client
	clock  types.Clock
	logger *slog.Logger

	statuses map[string]string // game ID → last seen status name
}

// NewSports builds the sports feed.
func NewSports(cfg config.SportsFeedConfig, clock types.Clock, logger *slog.Logger) *Runner {
	src := &sportsSource{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.Endpoint).
			SetTimeout(15 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}),
		clock:    clock,
		logger:   logger.With("component", "feed_sports"),
		statuses: make(map[string]string),
	}
	if src.clock == nil {
		src.clock = types.RealClock()
	}
	return NewRunner(src, cfg.PollInterval, clock, logger)
}

func (s *sportsSource) FeedType() types.FeedType { return types.FeedSports }

func (s *sportsSource) Connect(ctx context.Context) error { return nil }

func (s *sportsSource) Close() error { return nil }

// Poll fetches every configured league's scoreboard. A league fetch error
// aborts the poll; partial-league results would skew transition tracking.
func (s *sportsSource) Poll(ctx context.Context) ([]types.FeedEvent, error) {
	now := s.clock.Now()

	var out []types.FeedEvent
	for _, league := range s.cfg.Leagues {
		games, err := s.fetchLeague(ctx, league)
		if err != nil {
			return nil, err
		}
		out = append(out, s.detectFinals(games, now)...)
	}
	return out, nil
}

// detectFinals emits one event per game observed transitioning to a final
// status. A game first seen already final never emits: without an observed
// in-progress state there is no transition, and stale finals from before
// startup carry no edge.
func (s *sportsSource) detectFinals(games []gameResult, now time.Time) []types.FeedEvent {
	var out []types.FeedEvent
	for _, g := range games {
		prev, seen := s.statuses[g.GameID]
		s.statuses[g.GameID] = g.Status
		if !isFinalStatus(g.Status) {
			continue
		}
		if !seen || isFinalStatus(prev) {
			continue
		}
		out = append(out, s.gameEvent(g, now))
	}
	return out
}

func (s *sportsSource) fetchLeague(ctx context.Context, league string) ([]gameResult, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		Get("/" + league + "/scoreboard")
	if err != nil {
		return nil, types.NewFeedConnectionError(types.FeedSports, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, types.NewFeedRateLimitError(types.FeedSports,
			fmt.Errorf("status %d", resp.StatusCode()))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, types.NewFeedConnectionError(types.FeedSports,
			fmt.Errorf("%s: status %d", league, resp.StatusCode()))
	}

	var body scoreboardResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, types.NewFeedParseError(types.FeedSports, err)
	}
	return parseScoreboard(league, &body), nil
}

// parseScoreboard flattens scoreboard events into game results. Events with
// no competitions or fewer than two competitors are skipped.
func parseScoreboard(league string, body *scoreboardResponse) []gameResult {
	var out []gameResult
	for _, ev := range body.Events {
		if ev.ID == "" || len(ev.Competitions) == 0 {
			continue
		}
		comp := ev.Competitions[0]
		if len(comp.Competitors) < 2 {
			continue
		}

		g := gameResult{
			GameID: ev.ID,
			League: league,
			Status: ev.Status.Type.Name,
			Date:   ev.Date,
		}
		for _, c := range comp.Competitors {
			switch c.HomeAway {
			case "home":
				g.Home = c.Team.DisplayName
				g.HomeScore = c.Score
			case "away":
				g.Away = c.Team.DisplayName
				g.AwayScore = c.Score
			}
		}
		if g.Home == "" || g.Away == "" {
			continue
		}
		g.Winner = pickWinner(g)
		out = append(out, g)
	}
	return out
}

// pickWinner returns the higher-scoring team's name, or "" on a tie or when
// either score fails to parse.
func pickWinner(g gameResult) string {
	home, err1 := strconv.Atoi(g.HomeScore)
	away, err2 := strconv.Atoi(g.AwayScore)
	if err1 != nil || err2 != nil {
		return ""
	}
	switch {
	case home > away:
		return g.Home
	case away > home:
		return g.Away
	default:
		return ""
	}
}

func (s *sportsSource) gameEvent(g gameResult, now time.Time) types.FeedEvent {
	return types.FeedEvent{
		FeedType:    types.FeedSports,
		EventType:   types.FeedDataReleased,
		Indicator:   leagueIndicator(g.League),
		Value:       fmt.Sprintf("%s %s - %s %s", g.Home, g.HomeScore, g.Away, g.AwayScore),
		OutcomeType: types.OutcomeCategorical,
		ReleasedAt:  gameTime(g.Date, now),
		ReceivedAt:  now,
		Metadata: map[string]any{
			"game_id":    g.GameID,
			"league":     g.League,
			"winner":     g.Winner,
			"home":       g.Home,
			"away":       g.Away,
			"home_score": g.HomeScore,
			"away_score": g.AwayScore,
		},
	}
}

// leagueIndicator turns "basketball/nba" into "NBA_GAME".
func leagueIndicator(league string) string {
	parts := strings.Split(league, "/")
	last := parts[len(parts)-1]
	if last == "" {
		last = league
	}
	return strings.ToUpper(last) + "_GAME"
}

// isFinalStatus reports whether a scoreboard status name marks a finished
// game. Covers "STATUS_FINAL", "Final", and overtime variants.
func isFinalStatus(status string) bool {
	return strings.Contains(strings.ToUpper(status), "FINAL")
}

// gameTime parses the scoreboard event date, falling back to the local
// observation time.
func gameTime(date string, now time.Time) time.Time {
	if date == "" {
		return now
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z"} {
		if t, err := time.Parse(layout, date); err == nil {
			return t
		}
	}
	return now
}
