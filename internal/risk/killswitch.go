package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// killSwitch latches the bot into a no-trading state. Once tripped it stays
// tripped, the trigger counters stop updating, and only an explicit reset
// clears it. The trip methods report whether the call flipped the latch so
// the monitor can emit exactly one alert per trip.
type killSwitch struct {
	cfg    config.RiskConfig
	clock  types.Clock
	logger *slog.Logger

	mu    sync.Mutex
	state types.KillSwitchState

	lossStreak int
	outcomes   []bool // ring of recent trade results, true = success
	outcomeIdx int
	outcomeN   int
	apiErrs    int
}

func newKillSwitch(cfg config.RiskConfig, clock types.Clock, logger *slog.Logger) *killSwitch {
	k := &killSwitch{cfg: cfg, clock: clock, logger: logger}
	if cfg.ErrorRateWindow > 0 {
		k.outcomes = make([]bool, cfg.ErrorRateWindow)
	}
	return k
}

func (k *killSwitch) active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Active
}

func (k *killSwitch) snapshot() types.KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// recordTrade folds one execution outcome into the loss streak and the
// error-rate ring.
func (k *killSwitch) recordTrade(success bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.Active {
		return false
	}

	if success {
		k.lossStreak = 0
	} else {
		k.lossStreak++
	}
	if k.outcomes != nil {
		k.outcomes[k.outcomeIdx] = success
		k.outcomeIdx = (k.outcomeIdx + 1) % len(k.outcomes)
		if k.outcomeN < len(k.outcomes) {
			k.outcomeN++
		}
	}

	if k.cfg.MaxConsecutiveLosses > 0 && k.lossStreak >= k.cfg.MaxConsecutiveLosses {
		k.tripLocked(types.KillTriggerConsecutiveLosses, fmt.Sprintf("%d straight failed trades", k.lossStreak))
		return true
	}
	if rate, ok := k.failureRateLocked(); ok && rate >= k.cfg.MaxErrorRatePct {
		k.tripLocked(types.KillTriggerErrorRate, fmt.Sprintf("%.0f%% of the last %d trades failed", rate, k.outcomeN))
		return true
	}
	return false
}

// failureRateLocked reports the failing share of the ring in percent. The
// rate only counts once the window is full; a lone early failure would
// otherwise read as 100%.
func (k *killSwitch) failureRateLocked() (float64, bool) {
	if k.cfg.MaxErrorRatePct <= 0 || k.outcomes == nil || k.outcomeN < len(k.outcomes) {
		return 0, false
	}
	fails := 0
	for _, ok := range k.outcomes {
		if !ok {
			fails++
		}
	}
	return float64(fails) / float64(len(k.outcomes)) * 100, true
}

// recordAPI tracks venue connectivity. Failures count consecutively; any
// success clears the run.
func (k *killSwitch) recordAPI(success bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.Active {
		return false
	}
	if success {
		k.apiErrs = 0
		return false
	}
	k.apiErrs++
	if k.cfg.ConnectivityMaxErrors > 0 && k.apiErrs >= k.cfg.ConnectivityMaxErrors {
		k.tripLocked(types.KillTriggerConnectivity, fmt.Sprintf("%d consecutive API errors", k.apiErrs))
		return true
	}
	return false
}

func (k *killSwitch) trip(trigger types.KillTrigger, reason string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.Active {
		return false
	}
	k.tripLocked(trigger, reason)
	return true
}

func (k *killSwitch) tripLocked(trigger types.KillTrigger, reason string) {
	k.state = types.KillSwitchState{
		Active:      true,
		Trigger:     trigger,
		TriggeredAt: k.clock.Now(),
		Reason:      reason,
	}
	k.logger.Error("kill switch tripped", "trigger", trigger, "reason", reason)
}

// reset clears the latch and every derived counter. Nothing resets
// automatically; this is an operator action.
func (k *killSwitch) reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = types.KillSwitchState{}
	k.lossStreak = 0
	k.outcomeIdx = 0
	k.outcomeN = 0
	k.apiErrs = 0
	k.logger.Warn("kill switch reset")
}
