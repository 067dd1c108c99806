package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"polyarb/internal/config"
	"polyarb/internal/metrics"
	"polyarb/internal/risk"
	"polyarb/pkg/types"
)

// RiskSource provides the day's risk state for the digest.
type RiskSource interface {
	Snapshot() risk.Snapshot
}

// StatsSource provides trading statistics for the digest.
type StatsSource interface {
	Summary() metrics.Summary
}

// Scheduler posts a once-a-day digest at a fixed UTC hour. It wakes once a
// minute; the digest goes directly to the channels, bypassing the throttle.
type Scheduler struct {
	hour       int
	dispatcher *Dispatcher
	risk       RiskSource
	stats      StatsSource
	clock      types.Clock
	logger     *slog.Logger
	tick       time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSent string // UTC date "2006-01-02" of the last digest
}

func NewScheduler(cfg config.AlertsConfig, d *Dispatcher, riskSrc RiskSource, stats StatsSource, clock types.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		hour:       cfg.DailySummaryHour,
		dispatcher: d,
		risk:       riskSrc,
		stats:      stats,
		clock:      clock,
		logger:     logger.With("component", "summary"),
		tick:       time.Minute,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("daily summary scheduler started", "hour_utc", s.hour)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("daily summary scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeSend(s.clock.Now())
		}
	}
}

// maybeSend fires at most once per UTC day, inside the configured hour. The
// date stamp is taken before dispatch so a failing channel cannot cause a
// same-day re-fire.
func (s *Scheduler) maybeSend(now time.Time) bool {
	now = now.UTC()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if now.Hour() != s.hour || s.lastSent == today {
		s.mu.Unlock()
		return false
	}
	s.lastSent = today
	s.mu.Unlock()

	s.dispatcher.DispatchDirect(s.buildSummary(now))
	s.logger.Info("daily summary dispatched", "date", today)
	return true
}

func (s *Scheduler) buildSummary(now time.Time) AlertMessage {
	snap := s.risk.Snapshot()
	sum := s.stats.Summary()

	fields := map[string]string{
		"open_positions": strconv.Itoa(snap.OpenPositions),
		"exposure_usd":   snap.ExposureUSD.StringFixed(2),
		"realized_today": snap.RealizedToday.StringFixed(2),
		"realized_total": snap.RealizedTotal.StringFixed(2),
		"trades":         strconv.Itoa(sum.Trades),
		"wins":           strconv.Itoa(sum.Wins),
		"losses":         strconv.Itoa(sum.Losses),
		"win_rate":       fmt.Sprintf("%.1f%%", sum.WinRate*100),
		"cumulative_usd": sum.CumulativeUSD.StringFixed(2),
		"volume_usd":     sum.TotalVolumeUSD.StringFixed(2),
	}
	if snap.KillSwitch.Active {
		fields["kill_switch"] = string(snap.KillSwitch.Trigger)
	}
	if len(snap.Disputed) > 0 {
		fields["disputed_markets"] = strconv.Itoa(len(snap.Disputed))
	}

	return AlertMessage{
		Severity:        SeverityInfo,
		Title:           "Daily summary",
		Body:            fmt.Sprintf("Trading day %s (UTC)", now.Format("2006-01-02")),
		Fields:          fields,
		SourceEventType: "DAILY_SUMMARY",
		Timestamp:       now,
	}
}
