// Package alert routes domain events to notification channels.
//
// Every event is formatted into an AlertMessage, written to the decision log,
// and then fanned out by severity policy: DEBUG stays in the log, INFO and
// WARNING are throttled per source event type, CRITICAL always goes out.
// Channel failures are logged and never block other channels.
package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"log/slog"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// Severity orders alert urgency. The mapping from event type to severity is
// fixed in the formatters.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AlertMessage is the channel-independent alert representation produced by
// the formatters. Raw carries the originating event for the decision log.
type AlertMessage struct {
	Severity        Severity          `json:"severity"`
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	Fields          map[string]string `json:"fields,omitempty"`
	SourceEventType string            `json:"source_event_type"`
	Timestamp       time.Time         `json:"timestamp"`
	Raw             any               `json:"raw,omitempty"`
}

// Channel delivers an alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg AlertMessage) error
}

const paperPrefix = "[PAPER] "

// Dispatcher applies severity policy and fans alerts out to channels.
type Dispatcher struct {
	throttle  time.Duration
	paperMode bool
	decisions *DecisionLog // nil disables the decision log
	clock     types.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	channels []Channel
	lastSent map[string]time.Time // source event type -> last channel dispatch
}

func NewDispatcher(cfg config.AlertsConfig, decisions *DecisionLog, paperMode bool, clock types.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		throttle:  cfg.ThrottleSecs,
		paperMode: paperMode,
		decisions: decisions,
		clock:     clock,
		logger:    logger.With("component", "alerts"),
		lastSent:  make(map[string]time.Time),
	}
}

// AddChannel registers a delivery channel. Call during wiring, before events
// flow.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
}

// Dispatch applies the full policy: decision log, DEBUG suppression,
// per-type throttling for INFO/WARNING, critical bypass.
func (d *Dispatcher) Dispatch(msg AlertMessage) {
	d.dispatch(msg, true)
}

// DispatchDirect skips throttling (used by the daily summary). The decision
// log and DEBUG policy still apply.
func (d *Dispatcher) DispatchDirect(msg AlertMessage) {
	d.dispatch(msg, false)
}

func (d *Dispatcher) dispatch(msg AlertMessage, throttled bool) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.clock.Now()
	}
	if d.paperMode && !strings.HasPrefix(msg.Title, paperPrefix) {
		msg.Title = paperPrefix + msg.Title
	}

	if d.decisions != nil {
		if err := d.decisions.Append(msg); err != nil {
			d.logger.Error("decision log append failed", "error", err)
		}
	}

	if msg.Severity == SeverityDebug {
		d.logger.Debug("alert suppressed (debug)", "title", msg.Title, "source", msg.SourceEventType)
		return
	}

	if throttled && msg.Severity != SeverityCritical {
		if !d.passThrottle(msg.SourceEventType) {
			d.logger.Debug("alert throttled", "title", msg.Title, "source", msg.SourceEventType)
			return
		}
	}

	d.mu.Lock()
	channels := make([]Channel, len(d.channels))
	copy(channels, d.channels)
	d.mu.Unlock()

	ctx := context.Background()
	for _, ch := range channels {
		if err := ch.Send(ctx, msg); err != nil {
			d.logger.Warn("alert channel send failed",
				"channel", ch.Name(), "title", msg.Title, "error", err)
		}
	}
}

// passThrottle stamps and admits the first alert of a type per window;
// repeats inside the window are suppressed.
func (d *Dispatcher) passThrottle(sourceType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if last, ok := d.lastSent[sourceType]; ok && now.Sub(last) < d.throttle {
		return false
	}
	d.lastSent[sourceType] = now
	return true
}

// Callback adapters, wired into the emitting components.

func (d *Dispatcher) OnArbEvent(ev types.ArbEvent) error {
	d.Dispatch(FormatArbEvent(ev))
	return nil
}

func (d *Dispatcher) OnRiskEvent(ev types.RiskEvent) error {
	d.Dispatch(FormatRiskEvent(ev))
	return nil
}

func (d *Dispatcher) OnFeedEvent(ev types.FeedEvent) error {
	d.Dispatch(FormatFeedEvent(ev))
	return nil
}

func (d *Dispatcher) OnOracleEvent(ev types.OracleEvent) error {
	d.Dispatch(FormatOracleEvent(ev))
	return nil
}
