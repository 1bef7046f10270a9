package domain

import (
	"testing"
	"time"
)

func sampleSeries(n int) PriceSeries {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := PriceSeries{
		Times: make([]time.Time, n),
		Close: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.Times[i] = base.AddDate(0, 0, i)
		s.Close[i] = float64(100 + i)
	}
	return s
}

func TestPriceSeriesLast(t *testing.T) {
	if got := (PriceSeries{}).Last(); got != 0 {
		t.Fatalf("empty series last = %v, want 0", got)
	}
	if got := sampleSeries(5).Last(); got != 104 {
		t.Fatalf("last = %v, want 104", got)
	}
}

func TestPriceSeriesWindow(t *testing.T) {
	s := sampleSeries(10)

	w := s.Window(10, 3)
	if w.Len() != 3 || w.Close[0] != 107 {
		t.Fatalf("window = %v, want the trailing three closes", w.Close)
	}

	// A window larger than the available history clamps to the start.
	w = s.Window(2, 5)
	if w.Len() != 2 || w.Close[0] != 100 {
		t.Fatalf("clamped window = %v, want the first two closes", w.Close)
	}
}
