package risk

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"polyarb/pkg/types"
)

// positionBook tracks open positions keyed by token ID. At most one
// position per token: same-side fills average in, opposite-side fills
// reduce, and a full offset removes the entry. The book never flips a
// position; excess size on an offsetting fill is ignored.
type positionBook struct {
	mu    sync.Mutex
	byTok map[string]*types.Position
	clock types.Clock
}

func newPositionBook(clock types.Clock) *positionBook {
	return &positionBook{byTok: make(map[string]*types.Position), clock: clock}
}

// applyFill folds one successful fill into the book. It returns value
// copies of the position before and after the fill: before is nil for a
// fresh open, after is nil when the fill closed the position out. The
// before snapshot is what P&L settlement runs against.
func (b *positionBook) applyFill(res *types.ExecutionResult) (before, after *types.Position) {
	act := res.Action
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.byTok[act.TokenID]
	if !ok {
		pos := &types.Position{
			TokenID:     act.TokenID,
			ConditionID: act.ConditionID(),
			Side:        act.Side,
			EntryPrice:  res.FillPrice,
			Size:        res.FillSize,
			OpenedAt:    now,
			LastUpdated: now,
		}
		b.byTok[act.TokenID] = pos
		cp := *pos
		return nil, &cp
	}

	pre := *cur
	if act.Side == cur.Side {
		// Average in: the entry becomes the size-weighted mean.
		oldNotional := cur.EntryPrice.Mul(cur.Size)
		fillNotional := res.FillPrice.Mul(res.FillSize)
		newSize := cur.Size.Add(res.FillSize)
		cur.EntryPrice = oldNotional.Add(fillNotional).Div(newSize)
		cur.Size = newSize
		cur.LastUpdated = now
		cp := *cur
		return &pre, &cp
	}

	if res.FillSize.GreaterThanOrEqual(cur.Size) {
		delete(b.byTok, act.TokenID)
		return &pre, nil
	}
	cur.Size = cur.Size.Sub(res.FillSize)
	cur.LastUpdated = now
	cp := *cur
	return &pre, &cp
}

func (b *positionBook) get(tokenID string) *types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.byTok[tokenID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (b *positionBook) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byTok)
}

// conditionExposureUSD sums open notional across every token of one
// condition.
func (b *positionBook) conditionExposureUSD(conditionID string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := decimal.Zero
	for _, p := range b.byTok {
		if p.ConditionID == conditionID {
			total = total.Add(p.NotionalUSD())
		}
	}
	return total
}

// snapshot returns value copies ordered by open time.
func (b *positionBook) snapshot() []types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Position, 0, len(b.byTok))
	for _, p := range b.byTok {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
