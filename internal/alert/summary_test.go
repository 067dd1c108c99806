package alert

import (
	"testing"
	"time"

	"polyarb/internal/config"
	"polyarb/internal/metrics"
	"polyarb/internal/risk"
	"polyarb/pkg/types"
)

type fakeRisk struct{ snap risk.Snapshot }

func (f *fakeRisk) Snapshot() risk.Snapshot { return f.snap }

type fakeStats struct{ sum metrics.Summary }

func (f *fakeStats) Summary() metrics.Summary { return f.sum }

func testScheduler(t *testing.T, throttle time.Duration) (*Scheduler, *fakeChannel, *types.SimClock) {
	t.Helper()
	clock := testClock()
	cfg := config.AlertsConfig{ThrottleSecs: throttle, DailySummaryHour: 8}
	d := NewDispatcher(cfg, nil, false, clock, testLogger())
	ch := &fakeChannel{name: "fake"}
	d.AddChannel(ch)

	riskSrc := &fakeRisk{snap: risk.Snapshot{
		OpenPositions: 2,
		ExposureUSD:   dec("150"),
		RealizedToday: dec("-12.5"),
		RealizedTotal: dec("87.25"),
	}}
	stats := &fakeStats{sum: metrics.Summary{
		Trades:         4,
		Wins:           3,
		Losses:         1,
		WinRate:        0.75,
		CumulativeUSD:  dec("87.25"),
		TotalVolumeUSD: dec("410"),
	}}
	return NewScheduler(cfg, d, riskSrc, stats, clock, testLogger()), ch, clock
}

func TestSchedulerFiresOnceInConfiguredHour(t *testing.T) {
	t.Parallel()
	s, ch, _ := testScheduler(t, time.Minute)

	inHour := time.Date(2025, 7, 16, 8, 5, 0, 0, time.UTC)
	if !s.maybeSend(inHour) {
		t.Fatal("maybeSend did not fire inside the configured hour")
	}
	if s.maybeSend(inHour.Add(10 * time.Minute)) {
		t.Error("maybeSend re-fired within the same day")
	}
	if got := ch.count(); got != 1 {
		t.Errorf("channel received %d summaries, want 1", got)
	}
}

func TestSchedulerSkipsOutsideHour(t *testing.T) {
	t.Parallel()
	s, ch, _ := testScheduler(t, time.Minute)

	if s.maybeSend(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)) {
		t.Error("maybeSend fired outside the configured hour")
	}
	if got := ch.count(); got != 0 {
		t.Errorf("channel received %d summaries, want 0", got)
	}
}

func TestSchedulerFiresAgainNextDayDespiteThrottle(t *testing.T) {
	t.Parallel()
	// throttle far wider than a day: only the direct-dispatch path can pass
	s, ch, _ := testScheduler(t, 100*time.Hour)

	day1 := time.Date(2025, 7, 16, 8, 5, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	if !s.maybeSend(day1) {
		t.Fatal("day 1 summary did not fire")
	}
	if !s.maybeSend(day2) {
		t.Fatal("day 2 summary did not fire")
	}
	if got := ch.count(); got != 2 {
		t.Errorf("channel received %d summaries, want 2 (throttle must not apply)", got)
	}
}

func TestSchedulerSummaryContent(t *testing.T) {
	t.Parallel()
	s, ch, _ := testScheduler(t, time.Minute)

	s.maybeSend(time.Date(2025, 7, 16, 8, 0, 0, 0, time.UTC))
	msg := ch.last()

	if msg.Severity != SeverityInfo {
		t.Errorf("severity = %s, want INFO", msg.Severity)
	}
	if msg.Title != "Daily summary" {
		t.Errorf("title = %q", msg.Title)
	}
	if msg.SourceEventType != "DAILY_SUMMARY" {
		t.Errorf("source event type = %q", msg.SourceEventType)
	}
	want := map[string]string{
		"open_positions": "2",
		"exposure_usd":   "150.00",
		"realized_today": "-12.50",
		"realized_total": "87.25",
		"trades":         "4",
		"wins":           "3",
		"losses":         "1",
		"win_rate":       "75.0%",
		"cumulative_usd": "87.25",
		"volume_usd":     "410.00",
	}
	for k, v := range want {
		if got := msg.Fields[k]; got != v {
			t.Errorf("field %s = %q, want %q", k, got, v)
		}
	}
	if _, ok := msg.Fields["kill_switch"]; ok {
		t.Error("kill_switch field present while switch inactive")
	}
}

func TestSchedulerSummaryNamesKillSwitch(t *testing.T) {
	t.Parallel()
	s, ch, _ := testScheduler(t, time.Minute)
	s.risk = &fakeRisk{snap: risk.Snapshot{
		ExposureUSD:   dec("0"),
		RealizedToday: dec("0"),
		RealizedTotal: dec("0"),
		KillSwitch: types.KillSwitchState{
			Active:  true,
			Trigger: types.KillTriggerDailyLoss,
		},
	}}

	s.maybeSend(time.Date(2025, 7, 16, 8, 0, 0, 0, time.UTC))
	if got := ch.last().Fields["kill_switch"]; got != "DAILY_LOSS" {
		t.Errorf("kill_switch field = %q, want DAILY_LOSS", got)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()
	s, _, _ := testScheduler(t, time.Minute)
	s.tick = 5 * time.Millisecond

	s.Start()
	s.Start() // idempotent
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}
