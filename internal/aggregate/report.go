package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

// ReportOptions tune the composite report. Zero values take defaults.
type ReportOptions struct {
	BinEdges       []decimal.Decimal
	TopN           int
	LargeThreshold decimal.Decimal
	RateWindow     time.Duration
}

// Report is the full analytics bundle served by the stats command.
type Report struct {
	Summary      Summary                 `json:"summary"`
	Daily        []DailyPoint            `json:"daily"`
	Distribution []Bin                   `json:"distribution"`
	Sources      []SourceShare           `json:"sources"`
	Top          []model.MigrationRecord `json:"top"`
	Large        []model.MigrationRecord `json:"large_migrations"`
	Rate         Rate                    `json:"rate"`
}

// BuildReport assembles every aggregate view over the same records. The
// rate window ends at the newest record's timestamp, not the wall clock,
// so an unchanged snapshot always yields an identical report.
func BuildReport(records []model.MigrationRecord, opts ReportOptions) Report {
	topN := opts.TopN
	if topN <= 0 {
		topN = 10
	}
	threshold := opts.LargeThreshold
	if threshold.IsZero() {
		threshold = DefaultLargeThreshold
	}
	window := opts.RateWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}

	summary := Summarize(records)
	asOf := time.Unix(int64(summary.LastTimestamp), 0).UTC()

	return Report{
		Summary:      summary,
		Daily:        DailySeries(records),
		Distribution: Distribution(records, opts.BinEdges),
		Sources:      SourceBreakdown(records),
		Top:          TopN(records, topN),
		Large:        LargeMigrations(records, threshold),
		Rate:         RateOverWindow(records, window, asOf),
	}
}
