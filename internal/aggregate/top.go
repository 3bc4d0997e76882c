package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

// DefaultLargeThreshold marks a migration as large.
var DefaultLargeThreshold = decimal.NewFromInt(100000)

// TopN returns the n largest migrations by scaled amount. Equal amounts
// rank by chain position, earliest first.
func TopN(records []model.MigrationRecord, n int) []model.MigrationRecord {
	if n <= 0 || len(records) == 0 {
		return nil
	}

	sorted := make([]model.MigrationRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		cmp := sorted[i].ScaledAmount.Cmp(sorted[j].ScaledAmount)
		if cmp != 0 {
			return cmp > 0
		}
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// LargeMigrations returns records at or above threshold, largest first.
// Equal amounts rank by chain position, earliest first.
func LargeMigrations(records []model.MigrationRecord, threshold decimal.Decimal) []model.MigrationRecord {
	var out []model.MigrationRecord
	for _, r := range records {
		if r.ScaledAmount.GreaterThanOrEqual(threshold) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		cmp := out[i].ScaledAmount.Cmp(out[j].ScaledAmount)
		if cmp != 0 {
			return cmp > 0
		}
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}
