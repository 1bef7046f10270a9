package strategy

import (
	"testing"

	"github.com/staarb/staarb/internal/domain"
)

func TestGenerateSignalBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		position domain.PositionStatus
		longOnly bool
		zscore   float64
		want     domain.Decision
	}{
		{"idle above entry", domain.StatusIdle, false, 1.5, domain.DecisionShort},
		{"idle exactly entry", domain.StatusIdle, false, 1.0, domain.DecisionHold},
		{"idle below neg entry", domain.StatusIdle, false, -1.5, domain.DecisionLong},
		{"idle exactly neg entry", domain.StatusIdle, false, -1.0, domain.DecisionHold},
		{"idle inside band", domain.StatusIdle, false, 0.3, domain.DecisionHold},
		{"idle long only suppresses short", domain.StatusIdle, true, 1.5, domain.DecisionHold},
		{"idle long only still longs", domain.StatusIdle, true, -1.5, domain.DecisionLong},
		{"short below exit", domain.StatusShort, false, -0.1, domain.DecisionExit},
		{"short exactly exit", domain.StatusShort, false, 0.0, domain.DecisionHold},
		{"short above exit", domain.StatusShort, false, 0.5, domain.DecisionHold},
		{"long above neg exit", domain.StatusLong, false, 0.1, domain.DecisionExit},
		{"long exactly neg exit", domain.StatusLong, false, 0.0, domain.DecisionHold},
		{"long below neg exit", domain.StatusLong, false, -0.5, domain.DecisionHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewBollingerBand(1.0, 0.0, tt.longOnly)
			g.position = tt.position
			if got := g.GenerateSignal(tt.zscore); got != tt.want {
				t.Fatalf("GenerateSignal(%v) = %s, want %s", tt.zscore, got, tt.want)
			}
		})
	}
}

func TestSignalEmissionDoesNotMoveState(t *testing.T) {
	g := NewBollingerBand(1.0, 0.0, false)

	if got := g.GenerateSignal(1.5); got != domain.DecisionShort {
		t.Fatalf("expected SHORT, got %s", got)
	}
	if g.Position() != domain.StatusIdle {
		t.Fatal("emitting a signal must not move the confirmed state")
	}
}

func TestConfirmedTransitionSequence(t *testing.T) {
	g := NewBollingerBand(1.0, 0.0, false)

	steps := []struct {
		zscore float64
		want   domain.Decision
		after  domain.PositionStatus
	}{
		{1.5, domain.DecisionShort, domain.StatusShort},
		{-0.1, domain.DecisionExit, domain.StatusIdle},
		{-1.5, domain.DecisionLong, domain.StatusLong},
	}

	for i, step := range steps {
		got := g.GenerateSignal(step.zscore)
		if got != step.want {
			t.Fatalf("step %d: GenerateSignal(%v) = %s, want %s", i, step.zscore, got, step.want)
		}
		g.UpdatePosition(got)
		if g.Position() != step.after {
			t.Fatalf("step %d: position = %s, want %s", i, g.Position(), step.after)
		}
	}
}

func TestUpdatePositionHoldIsNoop(t *testing.T) {
	g := NewBollingerBand(1.0, 0.0, false)
	g.UpdatePosition(domain.DecisionLong)
	g.UpdatePosition(domain.DecisionHold)
	if g.Position() != domain.StatusLong {
		t.Fatal("HOLD must leave the confirmed state untouched")
	}
}
