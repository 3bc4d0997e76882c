// Package aggregate computes analytics over migration records. Every
// function is pure: output depends only on the records passed in, so
// identical stores produce identical reports.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Summary is the headline statistics block.
type Summary struct {
	TotalCount     uint64          `json:"total_count"`
	TotalScaled    decimal.Decimal `json:"total_scaled"`
	UniqueSenders  uint64          `json:"unique_senders"`
	MeanScaled     decimal.Decimal `json:"mean_scaled"`
	MedianScaled   decimal.Decimal `json:"median_scaled"`
	MinScaled      decimal.Decimal `json:"min_scaled"`
	MaxScaled      decimal.Decimal `json:"max_scaled"`
	FirstBlock     uint64          `json:"first_block"`
	LastBlock      uint64          `json:"last_block"`
	FirstTimestamp uint64          `json:"first_timestamp"`
	LastTimestamp  uint64          `json:"last_timestamp"`
}

// Summarize reduces records to a Summary. An empty input yields the zero
// Summary.
func Summarize(records []model.MigrationRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}

	var s Summary
	s.TotalCount = uint64(len(records))
	s.TotalScaled = decimal.Zero
	s.MinScaled = records[0].ScaledAmount
	s.MaxScaled = records[0].ScaledAmount
	s.FirstBlock = records[0].BlockNumber
	s.LastBlock = records[0].BlockNumber
	s.FirstTimestamp = records[0].BlockTimestamp
	s.LastTimestamp = records[0].BlockTimestamp

	senders := make(map[string]struct{}, len(records))
	amounts := make([]decimal.Decimal, 0, len(records))
	for _, r := range records {
		s.TotalScaled = s.TotalScaled.Add(r.ScaledAmount)
		amounts = append(amounts, r.ScaledAmount)
		senders[r.FromAddress] = struct{}{}

		if r.ScaledAmount.LessThan(s.MinScaled) {
			s.MinScaled = r.ScaledAmount
		}
		if r.ScaledAmount.GreaterThan(s.MaxScaled) {
			s.MaxScaled = r.ScaledAmount
		}
		if r.BlockNumber < s.FirstBlock {
			s.FirstBlock = r.BlockNumber
		}
		if r.BlockNumber > s.LastBlock {
			s.LastBlock = r.BlockNumber
		}
		if r.BlockTimestamp < s.FirstTimestamp {
			s.FirstTimestamp = r.BlockTimestamp
		}
		if r.BlockTimestamp > s.LastTimestamp {
			s.LastTimestamp = r.BlockTimestamp
		}
	}

	s.UniqueSenders = uint64(len(senders))
	s.MeanScaled = s.TotalScaled.
		Div(decimal.NewFromInt(int64(len(records)))).
		RoundBank(model.ScaledPrecision)
	s.MedianScaled = medianOf(amounts)
	return s
}

// medianOf returns the middle amount, or the midpoint of the two middle
// amounts for even-sized inputs.
func medianOf(amounts []decimal.Decimal) decimal.Decimal {
	if len(amounts) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(amounts))
	copy(sorted, amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].
		Add(sorted[mid]).
		Div(decimal.NewFromInt(2)).
		RoundBank(model.ScaledPrecision)
}

// pctOf returns part/whole as a percentage, zero when whole is zero.
func pctOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole).RoundBank(2)
}
