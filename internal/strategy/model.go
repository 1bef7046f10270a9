package strategy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/staarb/staarb/internal/domain"
)

// ErrNotFitted is returned when the model is queried before Fit.
var ErrNotFitted = errors.New("signal model is not fitted yet")

// SignalModel produces hedge ratios, a lookback window and a mean-reversion
// z-score from a price matrix. The matrix has shape (assets, samples) and
// the row order must match the symbol order given to Fit.
type SignalModel interface {
	Fit(data [][]float64, symbols []string) error
	Estimate(data [][]float64) (float64, error)
	LookbackWindow() int
	HedgeRatio() (domain.HedgeRatio, error)
}

// CointegrationModel fits a normalized hedge-ratio vector over a basket of
// price series and derives a z-score over a half-life window.
//
// The hedge vector is estimated by regressing the first asset on the rest;
// the resulting spread is checked for mean reversion with an AR(1) fit
// whose decay speed gives the half-life window used for normalization. The
// first asset's coefficient is always 1.0.
type CointegrationModel struct {
	hedgeRatio     domain.HedgeRatio
	hedgeVec       []float64
	halfLifeWindow int
}

// NewCointegrationModel creates an unfitted model. A pre-computed hedge
// ratio and window may be supplied to skip fitting (live sessions resuming
// a known basket).
func NewCointegrationModel(hedgeRatio domain.HedgeRatio, halfLifeWindow int) *CointegrationModel {
	m := &CointegrationModel{hedgeRatio: hedgeRatio, halfLifeWindow: halfLifeWindow}
	if hedgeRatio != nil {
		m.hedgeVec = hedgeVector(hedgeRatio)
	}
	return m
}

func hedgeVector(hr domain.HedgeRatio) []float64 {
	vec := make([]float64, len(hr))
	for i, sh := range hr {
		vec[i] = sh.HedgeRatio
	}
	return vec
}

// LookbackWindow returns the half-life window in bars.
func (m *CointegrationModel) LookbackWindow() int {
	return m.halfLifeWindow
}

// HedgeRatio returns a copy of the fitted hedge ratio.
func (m *CointegrationModel) HedgeRatio() (domain.HedgeRatio, error) {
	if m.hedgeRatio == nil {
		return nil, ErrNotFitted
	}
	out := make(domain.HedgeRatio, len(m.hedgeRatio))
	copy(out, m.hedgeRatio)
	return out, nil
}

// Fit estimates the hedge vector and the half-life window from the given
// price matrix. data rows correspond to symbols, columns to samples.
func (m *CointegrationModel) Fit(data [][]float64, symbols []string) error {
	if len(data) != len(symbols) {
		return fmt.Errorf("price matrix has %d rows for %d symbols", len(data), len(symbols))
	}
	if len(data) < 2 {
		return fmt.Errorf("need at least two assets to fit a hedge, got %d", len(data))
	}
	samples := len(data[0])
	for i, row := range data {
		if len(row) != samples {
			return fmt.Errorf("price series for %s has %d samples, expected %d", symbols[i], len(row), samples)
		}
	}
	if samples < 3 {
		return fmt.Errorf("need at least three samples to fit, got %d", samples)
	}

	coeffs, err := regressFirstOnRest(data)
	if err != nil {
		return err
	}

	// Normalized hedge vector: first component fixed to 1, the regression
	// coefficients enter with flipped sign so the spread is
	// first - sum(coeff_i * other_i).
	vec := make([]float64, len(data))
	vec[0] = 1
	for i, c := range coeffs {
		vec[i+1] = -c
	}

	spread := spreadSeries(vec, data)
	window, err := halfLife(spread)
	if err != nil {
		return err
	}

	hr := make(domain.HedgeRatio, len(symbols))
	for i, symbol := range symbols {
		hr[i] = domain.SingleHedgeRatio{Symbol: symbol, HedgeRatio: vec[i]}
	}
	m.hedgeRatio = hr
	m.hedgeVec = vec
	m.halfLifeWindow = window
	return nil
}

// Estimate projects the trailing half-life window of the spread and returns
// (last - mean) / stddev.
func (m *CointegrationModel) Estimate(data [][]float64) (float64, error) {
	if m.hedgeVec == nil {
		return 0, ErrNotFitted
	}
	if m.halfLifeWindow <= 0 {
		return 0, ErrNotFitted
	}
	if len(data) != len(m.hedgeVec) {
		return 0, fmt.Errorf("price matrix has %d rows, hedge has %d legs", len(data), len(m.hedgeVec))
	}

	spread := spreadSeries(m.hedgeVec, data)
	if len(spread) > m.halfLifeWindow {
		spread = spread[len(spread)-m.halfLifeWindow:]
	}
	if len(spread) == 0 {
		return 0, errors.New("empty spread window")
	}

	mean := stat.Mean(spread, nil)
	var variance float64
	for _, v := range spread {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(spread)))
	if std == 0 {
		return 0, errors.New("spread has zero variance over the lookback window")
	}
	return (spread[len(spread)-1] - mean) / std, nil
}

// regressFirstOnRest solves the least-squares fit of the first row against
// the remaining rows and returns the coefficients for the other assets.
func regressFirstOnRest(data [][]float64) ([]float64, error) {
	samples := len(data[0])
	k := len(data) - 1

	x := mat.NewDense(samples, k, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < samples; i++ {
			x.Set(i, j, data[j+1][i])
		}
	}
	y := mat.NewVecDense(samples, append([]float64(nil), data[0]...))

	var qr mat.QR
	qr.Factorize(x)
	var b mat.VecDense
	if err := qr.SolveVecTo(&b, false, y); err != nil {
		return nil, fmt.Errorf("hedge regression failed: %w", err)
	}

	coeffs := make([]float64, k)
	for j := 0; j < k; j++ {
		coeffs[j] = b.AtVec(j)
	}
	return coeffs, nil
}

func spreadSeries(vec []float64, data [][]float64) []float64 {
	samples := len(data[0])
	spread := make([]float64, samples)
	for t := 0; t < samples; t++ {
		var v float64
		for i, row := range data {
			v += vec[i] * row[t]
		}
		spread[t] = v
	}
	return spread
}

// halfLife fits delta_s(t) = alpha + beta*s(t-1) and converts the AR(1)
// decay speed into a window length, round(-ln2 / beta).
func halfLife(spread []float64) (int, error) {
	n := len(spread)
	if n < 3 {
		return 0, fmt.Errorf("need at least three spread samples for a half-life fit, got %d", n)
	}
	lagged := spread[:n-1]
	delta := make([]float64, n-1)
	for i := 1; i < n; i++ {
		delta[i-1] = spread[i] - spread[i-1]
	}

	_, beta := stat.LinearRegression(lagged, delta, nil, false)
	if beta >= 0 {
		return 0, errors.New("spread is not mean reverting (non-negative AR(1) slope)")
	}
	window := int(math.Round(-math.Ln2 / beta))
	if window < 2 {
		window = 2
	}
	return window, nil
}
