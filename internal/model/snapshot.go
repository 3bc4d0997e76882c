package model

import "github.com/shopspring/decimal"

// DailySnapshot aggregates migration activity for one UTC day.
type DailySnapshot struct {
	Date          string          `json:"date"`
	Count         uint64          `json:"count"`
	TotalScaled   decimal.Decimal `json:"total_scaled"`
	UniqueSenders uint64          `json:"unique_senders"`
}
