package domain

import "time"

// PriceSeries is a time-indexed close-price series for one symbol.
// Statistics run on float64; money stays decimal elsewhere.
type PriceSeries struct {
	Times []time.Time
	Close []float64
}

// Len returns the number of observations.
func (s PriceSeries) Len() int {
	return len(s.Close)
}

// Last returns the most recent close, or 0 for an empty series.
func (s PriceSeries) Last() float64 {
	if len(s.Close) == 0 {
		return 0
	}
	return s.Close[len(s.Close)-1]
}

// Window returns the trailing n observations ending at end (exclusive).
func (s PriceSeries) Window(end, n int) PriceSeries {
	start := end - n
	if start < 0 {
		start = 0
	}
	return PriceSeries{Times: s.Times[start:end], Close: s.Close[start:end]}
}

// KlineRequest describes a historical bar fetch: either an explicit time
// range or a trailing Limit of bars when Start/End are zero.
type KlineRequest struct {
	Interval string
	Start    time.Time
	End      time.Time
	Limit    int
}
