package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric is a score that may be undefined, e.g. R² over a constant reference
// field or any score over zero valid points.
type Metric struct {
	Value   float64
	Defined bool
}

// DefinedMetric returns a defined metric.
func DefinedMetric(v float64) Metric { return Metric{Value: v, Defined: true} }

// Undefined is the undefined metric.
var Undefined = Metric{}

// Get returns the value and whether it is defined.
func (m Metric) Get() (float64, bool) { return m.Value, m.Defined }

func (m Metric) String() string {
	if !m.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%g", m.Value)
}

// MarshalJSON encodes an undefined metric as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON decodes null as undefined.
func (m *Metric) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Undefined
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = DefinedMetric(v)
	return nil
}

// MetricRecord holds the scores of one model at one timestamp.
type MetricRecord struct {
	Time       time.Time `json:"time"`
	MAE        Metric    `json:"mae"`
	RMSE       Metric    `json:"rmse"`
	R2         Metric    `json:"r2"`
	ValidCount int       `json:"valid_sample_count"`
}

// ComputeMetrics scores forecast against reference at time t. Both fields
// must have the same shape. Points that are invalid or non-finite in either
// field are excluded from every score.
//
//	MAE  = mean |f - r|
//	RMSE = sqrt(mean (f - r)²)
//	R²   = 1 - Σ(f - r)² / Σ(r - mean(r))²
//
// R² is undefined when the reference is constant over the valid points, up
// to rounding noise. With no valid points all scores are undefined and
// ValidCount is 0.
func ComputeMetrics(t time.Time, forecast, reference *Field2D) (MetricRecord, error) {
	if len(forecast.Values) != len(reference.Values) ||
		len(forecast.Valid) != len(forecast.Values) ||
		len(reference.Valid) != len(reference.Values) {
		return MetricRecord{}, fmt.Errorf("%w: forecast %d points, reference %d points",
			ErrShapeMismatch, len(forecast.Values), len(reference.Values))
	}
	fl, fn := forecast.Shape()
	rl, rn := reference.Shape()
	if fl != rl || fn != rn {
		return MetricRecord{}, fmt.Errorf("%w: forecast %dx%d, reference %dx%d",
			ErrShapeMismatch, fl, fn, rl, rn)
	}

	f, r := validPairs(forecast, reference)
	rec := MetricRecord{Time: t, ValidCount: len(f)}
	if len(f) == 0 {
		rec.MAE, rec.RMSE, rec.R2 = Undefined, Undefined, Undefined
		return rec, nil
	}

	n := float64(len(f))
	diff := floats.SubTo(make([]float64, len(f)), f, r)
	rec.MAE = DefinedMetric(floats.Norm(diff, 1) / n)
	ssRes := floats.Dot(diff, diff)
	rec.RMSE = DefinedMetric(math.Sqrt(ssRes / n))

	mean := stat.Mean(r, nil)
	dev := append([]float64(nil), r...)
	floats.AddConst(-mean, dev)
	ssTot := floats.Dot(dev, dev)
	if constantReference(ssTot, n, mean) {
		rec.R2 = Undefined
	} else {
		rec.R2 = DefinedMetric(1 - ssRes/ssTot)
	}
	return rec, nil
}

// constantRelTol bounds the reference standard deviation, relative to its
// magnitude, below which the reference counts as constant. Interpolating a
// constant field leaves rounding noise several orders of magnitude smaller.
const constantRelTol = 1e-10

// constantReference reports whether a reference with total sum of squares
// ssTot over n points and the given mean is constant up to rounding.
func constantReference(ssTot, n, mean float64) bool {
	scale := constantRelTol * math.Max(1, math.Abs(mean))
	return ssTot <= n*scale*scale
}

// validPairs returns the forecast and reference values at points valid in both.
func validPairs(forecast, reference *Field2D) ([]float64, []float64) {
	f := make([]float64, 0, len(forecast.Values))
	r := make([]float64, 0, len(reference.Values))
	for k := range forecast.Values {
		fv, rv := forecast.Values[k], reference.Values[k]
		if !forecast.Valid[k] || !reference.Valid[k] || !finite(fv) || !finite(rv) {
			continue
		}
		f = append(f, fv)
		r = append(r, rv)
	}
	return f, r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
