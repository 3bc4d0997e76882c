package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

var secondsPerDay = decimal.NewFromInt(86400)

// Rate is migration velocity over a trailing window.
type Rate struct {
	WindowSeconds uint64          `json:"window_seconds"`
	Count         uint64          `json:"count"`
	TotalScaled   decimal.Decimal `json:"total_scaled"`
	CountPerDay   decimal.Decimal `json:"count_per_day"`
	ScaledPerDay  decimal.Decimal `json:"scaled_per_day"`
}

// RateOverWindow measures activity in (asOf-window, asOf]. The reference
// time is a parameter so outputs stay reproducible.
func RateOverWindow(records []model.MigrationRecord, window time.Duration, asOf time.Time) Rate {
	seconds := uint64(window / time.Second)
	if seconds == 0 {
		return Rate{TotalScaled: decimal.Zero, CountPerDay: decimal.Zero, ScaledPerDay: decimal.Zero}
	}

	upper := asOf.Unix()
	lower := upper - int64(seconds)

	rate := Rate{WindowSeconds: seconds, TotalScaled: decimal.Zero}
	for _, r := range records {
		ts := int64(r.BlockTimestamp)
		if ts > lower && ts <= upper {
			rate.Count++
			rate.TotalScaled = rate.TotalScaled.Add(r.ScaledAmount)
		}
	}

	windowSecs := decimal.NewFromInt(int64(seconds))
	rate.CountPerDay = decimal.NewFromInt(int64(rate.Count)).
		Mul(secondsPerDay).Div(windowSecs).RoundBank(4)
	rate.ScaledPerDay = rate.TotalScaled.
		Mul(secondsPerDay).Div(windowSecs).RoundBank(model.ScaledPrecision)
	return rate
}
