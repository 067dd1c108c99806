package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/pkg/types"
)

// realizedPnL computes the dollars realized by one fill against the
// pre-fill position. Only offsetting fills realize anything: same-side
// fills and fresh opens return zero.
//
// A long realizes (exit − entry) · closed size; a short the negation. The
// closed size is capped at the open size since the book never flips.
func realizedPnL(before *types.Position, res *types.ExecutionResult) decimal.Decimal {
	if before == nil || res.Action.Side == before.Side {
		return decimal.Zero
	}
	closeSize := decimal.Min(res.FillSize, before.Size)
	diff := res.FillPrice.Sub(before.EntryPrice)
	if before.Side == types.SELL {
		diff = diff.Neg()
	}
	return diff.Mul(closeSize)
}

// dailyLedger accumulates realized P&L in a running total and a day bucket
// that covers one UTC calendar day. The day rolls lazily: every access
// checks whether the stored bucket has ended and starts a fresh one if so.
type dailyLedger struct {
	mu       sync.Mutex
	clock    types.Clock
	dayStart time.Time // UTC midnight of the current bucket
	today    decimal.Decimal
	total    decimal.Decimal
}

func newDailyLedger(clock types.Clock) *dailyLedger {
	return &dailyLedger{clock: clock, dayStart: utcMidnight(clock.Now())}
}

func utcMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func (l *dailyLedger) rollLocked() {
	now := l.clock.Now().UTC()
	if !now.Before(l.dayStart.Add(24 * time.Hour)) {
		l.dayStart = utcMidnight(now)
		l.today = decimal.Zero
	}
}

func (l *dailyLedger) add(realized decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.today = l.today.Add(realized)
	l.total = l.total.Add(realized)
}

func (l *dailyLedger) realizedToday() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.today
}

func (l *dailyLedger) realizedTotal() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *dailyLedger) dayStartUTC() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.dayStart
}
