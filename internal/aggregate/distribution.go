package aggregate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
)

// DefaultBinEdges bound the standard amount histogram. The final edge opens
// an unbounded bucket.
var DefaultBinEdges = []decimal.Decimal{
	decimal.Zero,
	decimal.NewFromInt(100),
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
	decimal.NewFromInt(5000),
	decimal.NewFromInt(10000),
	decimal.NewFromInt(50000),
	decimal.NewFromInt(100000),
	decimal.NewFromInt(500000),
}

// Bin is one histogram bucket.
type Bin struct {
	Label string          `json:"label"`
	Count uint64          `json:"count"`
	Pct   decimal.Decimal `json:"pct"`
}

// Distribution buckets records by scaled amount. Buckets are
// [edge[i], edge[i+1]) with the last edge open-ended, so every record lands
// in exactly one bucket.
func Distribution(records []model.MigrationRecord, edges []decimal.Decimal) []Bin {
	if len(edges) == 0 {
		edges = DefaultBinEdges
	}

	counts := make([]uint64, len(edges))
	for _, r := range records {
		counts[bucketIndex(r.ScaledAmount, edges)]++
	}

	total := decimal.NewFromInt(int64(len(records)))
	out := make([]Bin, len(edges))
	for i := range edges {
		label := edges[i].String() + "+"
		if i < len(edges)-1 {
			label = fmt.Sprintf("%s-%s", edges[i], edges[i+1])
		}
		out[i] = Bin{
			Label: label,
			Count: counts[i],
			Pct:   pctOf(decimal.NewFromInt(int64(counts[i])), total),
		}
	}
	return out
}

func bucketIndex(amount decimal.Decimal, edges []decimal.Decimal) int {
	for i := len(edges) - 1; i >= 0; i-- {
		if amount.GreaterThanOrEqual(edges[i]) {
			return i
		}
	}
	return 0
}

// SourceShare is one source class's slice of the totals.
type SourceShare struct {
	Source      model.SourceClass `json:"source"`
	Count       uint64            `json:"count"`
	TotalScaled decimal.Decimal   `json:"total_scaled"`
	CountPct    decimal.Decimal   `json:"count_pct"`
	AmountPct   decimal.Decimal   `json:"amount_pct"`
}

// SourceBreakdown splits records across the three source classes. All
// classes appear even when empty, and percentages are zero-safe.
func SourceBreakdown(records []model.MigrationRecord) []SourceShare {
	counts := make(map[model.SourceClass]uint64)
	totals := make(map[model.SourceClass]decimal.Decimal)
	grandTotal := decimal.Zero
	for _, r := range records {
		counts[r.Source]++
		prev, ok := totals[r.Source]
		if !ok {
			prev = decimal.Zero
		}
		totals[r.Source] = prev.Add(r.ScaledAmount)
		grandTotal = grandTotal.Add(r.ScaledAmount)
	}

	grandCount := decimal.NewFromInt(int64(len(records)))
	out := make([]SourceShare, 0, 3)
	for _, source := range []model.SourceClass{model.SourceNative, model.SourceBridged, model.SourceUnknown} {
		total, ok := totals[source]
		if !ok {
			total = decimal.Zero
		}
		out = append(out, SourceShare{
			Source:      source,
			Count:       counts[source],
			TotalScaled: total,
			CountPct:    pctOf(decimal.NewFromInt(int64(counts[source])), grandCount),
			AmountPct:   pctOf(total, grandTotal),
		})
	}
	return out
}
