package strategy

import (
	"github.com/staarb/staarb/internal/domain"
)

// BollingerBand converts a z-score into a trading decision given the
// confirmed position state. All threshold comparisons are strict: a
// z-score exactly on a threshold never triggers a transition.
//
// Emitting a signal does not move the state; UpdatePosition is called
// separately once fills are confirmed, so the state always reflects
// executed positions rather than emitted intents.
type BollingerBand struct {
	entryThreshold float64
	exitThreshold  float64
	position       domain.PositionStatus
	longOnly       bool
}

// NewBollingerBand creates a generator in the IDLE state.
func NewBollingerBand(entryThreshold, exitThreshold float64, longOnly bool) *BollingerBand {
	return &BollingerBand{
		entryThreshold: entryThreshold,
		exitThreshold:  exitThreshold,
		position:       domain.StatusIdle,
		longOnly:       longOnly,
	}
}

// UpdateThresholds replaces both thresholds.
func (b *BollingerBand) UpdateThresholds(entry, exit float64) {
	b.entryThreshold = entry
	b.exitThreshold = exit
}

// Position returns the confirmed position state.
func (b *BollingerBand) Position() domain.PositionStatus {
	return b.position
}

// UpdatePosition moves the confirmed state after a transaction is
// acknowledged. HOLD leaves the state untouched.
func (b *BollingerBand) UpdatePosition(action domain.Decision) {
	switch action {
	case domain.DecisionLong:
		b.position = domain.StatusLong
	case domain.DecisionShort:
		b.position = domain.StatusShort
	case domain.DecisionExit:
		b.position = domain.StatusIdle
	}
}

// GenerateSignal maps a z-score to a decision for the current state.
func (b *BollingerBand) GenerateSignal(zscore float64) domain.Decision {
	signal := domain.DecisionHold

	switch b.position {
	case domain.StatusIdle:
		if zscore > b.entryThreshold {
			if !b.longOnly {
				signal = domain.DecisionShort
			}
		} else if zscore < -b.entryThreshold {
			signal = domain.DecisionLong
		}
	case domain.StatusShort:
		if !b.longOnly && zscore < b.exitThreshold {
			signal = domain.DecisionExit
		}
	case domain.StatusLong:
		if zscore > -b.exitThreshold {
			signal = domain.DecisionExit
		}
	}

	return signal
}
