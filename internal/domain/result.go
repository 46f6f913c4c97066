package domain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// SkippedStep records a timestamp that could not be scored for any model.
type SkippedStep struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// MetricSummary aggregates one metric of one model over the timestamps where
// the metric is defined.
type MetricSummary struct {
	Count  int    `json:"count"`
	Mean   Metric `json:"mean"`
	Median Metric `json:"median"`
	StdDev Metric `json:"std_dev"`
}

// ModelSummary aggregates all metrics of one model.
type ModelSummary struct {
	Scored    int           `json:"scored"`
	Undefined int           `json:"undefined"`
	MAE       MetricSummary `json:"mae"`
	RMSE      MetricSummary `json:"rmse"`
	R2        MetricSummary `json:"r2"`
}

// VerificationResult is the outcome of one verification run. It is built
// once by the pipeline and treated as read-only afterwards.
type VerificationResult struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Reference  string                    `json:"reference"`
	Variable   string                    `json:"variable"`
	Unit       string                    `json:"unit"`
	Models     []string                  `json:"models"`
	Records    map[string][]MetricRecord `json:"records"`
	Summary    map[string]ModelSummary   `json:"summary"`
	Attempted  int                       `json:"timestamps_attempted"`
	Scored     int                       `json:"timestamps_scored"`
	Skipped    []SkippedStep             `json:"timestamps_skipped"`
}

// SortRecords orders every model's records by time.
func SortRecords(records map[string][]MetricRecord) {
	for _, recs := range records {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
	}
}

// Summarize aggregates a model's records. Undefined values are ignored per
// metric; a record with zero valid samples counts as undefined.
func Summarize(records []MetricRecord) ModelSummary {
	var mae, rmse, r2 []float64
	s := ModelSummary{}
	for _, rec := range records {
		if rec.ValidCount == 0 {
			s.Undefined++
			continue
		}
		s.Scored++
		if v, ok := rec.MAE.Get(); ok {
			mae = append(mae, v)
		}
		if v, ok := rec.RMSE.Get(); ok {
			rmse = append(rmse, v)
		}
		if v, ok := rec.R2.Get(); ok {
			r2 = append(r2, v)
		}
	}
	s.MAE = SummarizeValues(mae)
	s.RMSE = SummarizeValues(rmse)
	s.R2 = SummarizeValues(r2)
	return s
}

// SummarizeValues returns mean, median and population standard deviation of
// values. An empty input yields undefined statistics.
func SummarizeValues(values []float64) MetricSummary {
	if len(values) == 0 {
		return MetricSummary{Mean: Undefined, Median: Undefined, StdDev: Undefined}
	}
	mean := stat.Mean(values, nil)
	return MetricSummary{
		Count:  len(values),
		Mean:   DefinedMetric(mean),
		Median: DefinedMetric(median(values)),
		StdDev: DefinedMetric(math.Sqrt(stat.MomentAbout(2, values, mean, nil))),
	}
}

// median averages the two middle values for even-length input.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
