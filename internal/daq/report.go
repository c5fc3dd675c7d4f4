package daq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

const reportSubject = "RFWScopeDAQ Failure Report"

// MaxFailureRatio returns the worst per-worker failure ratio. Any worker that
// never attempted a sample counts as a total failure.
func MaxFailureRatio(stats []*domain.RunStats) float64 {
	max := 0.0
	for _, s := range stats {
		if r := s.FailureRatio(); r > max {
			max = r
		}
	}
	return max
}

// FormatFailureReport renders the per-cavity counts and every captured error
// as a plain-text email body.
func FormatFailureReport(stats []*domain.RunStats, end time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failure report for run ending at %s\n\n", end.Format("2006-01-02 15:04:05"))
	for _, s := range stats {
		fmt.Fprintf(&b, "%s: %d / %d attempts succeeded\n", s.Cavity, s.Successes, s.Attempts)
		for _, err := range s.Errors {
			fmt.Fprintf(&b, "  %v\n", err)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SendFailureReport notifies operators when the worst failure ratio meets the
// threshold. With no notifier configured, or a run below threshold, it is a
// silent no-op.
func SendFailureReport(ctx context.Context, notifier ports.Notifier, stats []*domain.RunStats, threshold float64) error {
	if notifier == nil || len(stats) == 0 {
		return nil
	}
	if MaxFailureRatio(stats) < threshold {
		return nil
	}
	return notifier.Notify(ctx, reportSubject, FormatFailureReport(stats, time.Now()))
}
