package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

// DateFormat is the UTC day key used across daily series.
const DateFormat = "2006-01-02"

// DailyPoint is one UTC day of migration activity plus the running total.
type DailyPoint struct {
	Date             string          `json:"date"`
	Count            uint64          `json:"count"`
	TotalScaled      decimal.Decimal `json:"total_scaled"`
	UniqueSenders    uint64          `json:"unique_senders"`
	CumulativeScaled decimal.Decimal `json:"cumulative_scaled"`
}

// DayOf converts a block timestamp to its UTC day key.
func DayOf(timestamp uint64) string {
	return time.Unix(int64(timestamp), 0).UTC().Format(DateFormat)
}

// DailySeries groups records by UTC day and carries a cumulative total.
func DailySeries(records []model.MigrationRecord) []DailyPoint {
	type dayAgg struct {
		count   uint64
		total   decimal.Decimal
		senders map[string]struct{}
	}
	days := make(map[string]*dayAgg)
	for _, r := range records {
		key := DayOf(r.BlockTimestamp)
		agg, ok := days[key]
		if !ok {
			agg = &dayAgg{total: decimal.Zero, senders: make(map[string]struct{})}
			days[key] = agg
		}
		agg.count++
		agg.total = agg.total.Add(r.ScaledAmount)
		agg.senders[r.FromAddress] = struct{}{}
	}

	keys := make([]string, 0, len(days))
	for key := range days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]DailyPoint, 0, len(keys))
	running := decimal.Zero
	for _, key := range keys {
		agg := days[key]
		running = running.Add(agg.total)
		out = append(out, DailyPoint{
			Date:             key,
			Count:            agg.count,
			TotalScaled:      agg.total,
			UniqueSenders:    uint64(len(agg.senders)),
			CumulativeScaled: running,
		})
	}
	return out
}

// Snapshots reduces records to persistable daily snapshots.
func Snapshots(records []model.MigrationRecord) []model.DailySnapshot {
	series := DailySeries(records)
	out := make([]model.DailySnapshot, 0, len(series))
	for _, point := range series {
		out = append(out, model.DailySnapshot{
			Date:          point.Date,
			Count:         point.Count,
			TotalScaled:   point.TotalScaled,
			UniqueSenders: point.UniqueSenders,
		})
	}
	return out
}
