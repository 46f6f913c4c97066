// Package report renders verification results for the console and as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.ngs.io/forecast-verify/internal/domain"
)

const rule = "============================================================"

// WriteText writes the per-timestep scores followed by the summary block.
func WriteText(w io.Writer, r *domain.VerificationResult) error {
	if err := WriteTimesteps(w, r); err != nil {
		return err
	}
	return WriteSummary(w, r)
}

// WriteTimesteps writes one line per model and timestamp, and one line per skipped timestamp.
func WriteTimesteps(w io.Writer, r *domain.VerificationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODEL\tMAE\tRMSE\tR²\tN")

	skipped := make(map[int64]string, len(r.Skipped))
	for _, s := range r.Skipped {
		skipped[s.Time.UnixNano()] = s.Reason
	}

	for _, t := range timeline(r) {
		ts := t.UTC().Format(time.RFC3339)
		if reason, ok := skipped[t.UnixNano()]; ok {
			fmt.Fprintf(tw, "%s\t-\tskipped: %s\t\t\t\n", ts, reason)
			continue
		}
		for _, model := range r.Models {
			rec, ok := recordAt(r.Records[model], t)
			if !ok {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
				ts, model, format(rec.MAE, 2), format(rec.RMSE, 2), format(rec.R2, 3), rec.ValidCount)
		}
	}
	return tw.Flush()
}

// WriteSummary writes mean ± standard deviation of each metric per model.
func WriteSummary(w io.Writer, r *domain.VerificationResult) error {
	var b strings.Builder
	unit := r.Unit
	if unit != "" {
		unit = " " + unit
	}

	b.WriteString("\n" + rule + "\n")
	b.WriteString("SUMMARY STATISTICS\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Reference: %s  Variable: %s\n", r.Reference, r.Variable)
	fmt.Fprintf(&b, "Timestamps: %d attempted, %d scored, %d skipped\n", r.Attempted, r.Scored, len(r.Skipped))

	for _, model := range r.Models {
		s := r.Summary[model]
		fmt.Fprintf(&b, "\n%s Forecast:\n", model)
		fmt.Fprintf(&b, "  MAE:  %s%s\n", meanStd(s.MAE, 2), unit)
		fmt.Fprintf(&b, "  RMSE: %s%s\n", meanStd(s.RMSE, 2), unit)
		fmt.Fprintf(&b, "  R²:   %s\n", meanStd(s.R2, 3))
		if s.Undefined > 0 {
			fmt.Fprintf(&b, "  (%d timestamps with no valid points)\n", s.Undefined)
		}
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, r *domain.VerificationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func meanStd(s domain.MetricSummary, prec int) string {
	mean, ok := s.Mean.Get()
	if !ok {
		return "undefined"
	}
	std, _ := s.StdDev.Get()
	return fmt.Sprintf("%.*f ± %.*f", prec, mean, prec, std)
}

func format(m domain.Metric, prec int) string {
	v, ok := m.Get()
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

// timeline merges scored and skipped timestamps in order.
func timeline(r *domain.VerificationResult) []time.Time {
	var all []time.Time
	for _, s := range r.Skipped {
		all = append(all, s.Time)
	}
	for _, model := range r.Models {
		for _, rec := range r.Records[model] {
			all = append(all, rec.Time)
		}
	}
	return domain.NewTimeSet(all).Times()
}

func recordAt(records []domain.MetricRecord, t time.Time) (domain.MetricRecord, bool) {
	for _, rec := range records {
		if rec.Time.Equal(t) {
			return rec, true
		}
	}
	return domain.MetricRecord{}, false
}
