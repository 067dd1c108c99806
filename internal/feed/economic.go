// economic.go polls a BLS-style time-series API for economic releases. A
// release is "new" when the cached value string for its indicator differs.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// seriesIndicators maps BLS series IDs to the indicator names markets quote.
var seriesIndicators = map[string]string{
	"CUSR0000SA0":   "CPI",          // CPI-U, all items, seasonally adjusted
	"LNS14000000":   "UNEMPLOYMENT", // unemployment rate
	"CES0000000001": "NFP",          // total nonfarm payrolls
	"WPSFD4":        "PPI",          // PPI final demand
}

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
	Latest          bool     `json:"latest"`
}

type blsResponse struct {
	Status  string `json:"status"`
	Results struct {
		Series []blsSeries `json:"series"`
	} `json:"Results"`
}

type blsSeries struct {
	SeriesID string         `json:"seriesID"`
	Data     []blsDataPoint `json:"data"`
}

type blsDataPoint struct {
	Year       string `json:"year"`
	Period     string `json:"period"` // "M07" = July
	PeriodName string `json:"periodName"`
	Value      string `json:"value"`
	Latest     string `json:"latest"`
}

// economicSource polls the release endpoint and tracks last-seen values.
type economicSource struct {
	cfg    config.EconomicFeedConfig
	http   *resty.Client
	clock  types.Clock
	logger *slog.Logger

	lastValues map[string]string // indicator → last seen value string
}

// NewEconomic builds the economic feed.
func NewEconomic(cfg config.EconomicFeedConfig, clock types.Clock, logger *slog.Logger) *Runner {
	src := &economicSource{
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
			}).
			SetHeader("Content-Type", "application/json"),
		clock:      clock,
		logger:     logger.With("component", "feed_economic"),
		lastValues: make(map[string]string),
	}
	if src.clock == nil {
		src.clock = types.RealClock()
	}
	return NewRunner(src, cfg.PollInterval, clock, logger)
}

func (s *economicSource) FeedType() types.FeedType { return types.FeedEconomic }

func (s *economicSource) Connect(ctx context.Context) error { return nil }

func (s *economicSource) Close() error { return nil }

// Poll POSTs the series list and emits one event per series whose latest
// value changed since the previous poll.
func (s *economicSource) Poll(ctx context.Context) ([]types.FeedEvent, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(blsRequest{
			SeriesID:        s.cfg.SeriesIDs,
			RegistrationKey: s.cfg.RegistrationKey,
			Latest:          true,
		}).
		Post("")
	if err != nil {
		return nil, types.NewFeedConnectionError(types.FeedEconomic, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, types.NewFeedRateLimitError(types.FeedEconomic,
			fmt.Errorf("status %d", resp.StatusCode()))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, types.NewFeedConnectionError(types.FeedEconomic,
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	var body blsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, types.NewFeedParseError(types.FeedEconomic, err)
	}

	releases := s.parseReleases(&body, s.clock.Now())
	return s.filterNew(releases), nil
}

// filterNew keeps releases whose value differs from the last one seen for
// the indicator. The first sighting of an indicator counts as new: a
// just-started engine cannot tell a fresh print from an old one, and the
// signal layer prices the edge either way.
func (s *economicSource) filterNew(releases []types.FeedEvent) []types.FeedEvent {
	var out []types.FeedEvent
	for _, ev := range releases {
		last, seen := s.lastValues[ev.Indicator]
		if seen && last == ev.Value {
			continue
		}
		s.lastValues[ev.Indicator] = ev.Value
		out = append(out, ev)
	}
	return out
}

// parseReleases converts a response body into candidate release events. A
// non-success API status or missing Results yields no releases, not an
// error: those are quota messages and empty windows, not failures.
func (s *economicSource) parseReleases(body *blsResponse, now time.Time) []types.FeedEvent {
	if body.Status != "REQUEST_SUCCEEDED" || len(body.Results.Series) == 0 {
		return nil
	}

	var out []types.FeedEvent
	for _, series := range body.Results.Series {
		if len(series.Data) == 0 {
			continue
		}
		dp := series.Data[0] // most recent point first

		indicator, ok := seriesIndicators[series.SeriesID]
		if !ok {
			indicator = series.SeriesID
		}

		var num decimal.NullDecimal
		if v, err := decimal.NewFromString(dp.Value); err == nil {
			num = decimal.NullDecimal{Decimal: v, Valid: true}
		}

		out = append(out, types.FeedEvent{
			FeedType:     types.FeedEconomic,
			EventType:    types.FeedDataReleased,
			Indicator:    indicator,
			Value:        dp.Value,
			NumericValue: num,
			OutcomeType:  types.OutcomeNumeric,
			ReleasedAt:   releaseTime(dp, now),
			ReceivedAt:   now,
			Metadata: map[string]any{
				"series_id":   series.SeriesID,
				"period":      dp.Period,
				"period_name": dp.PeriodName,
				"year":        dp.Year,
			},
		})
	}
	return out
}

// releaseTime approximates the release timestamp from the reference period.
// Falls back to the observation time when the period is unparsable.
func releaseTime(dp blsDataPoint, now time.Time) time.Time {
	year, err := strconv.Atoi(dp.Year)
	if err != nil {
		return now
	}
	if len(dp.Period) == 3 && dp.Period[0] == 'M' {
		if month, err := strconv.Atoi(dp.Period[1:]); err == nil && month >= 1 && month <= 12 {
			return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
