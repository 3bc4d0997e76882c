package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ScaledPrecision is the number of fractional digits kept on scaled amounts.
const ScaledPrecision = 8

// SourceClass labels where the tokens burned by a migration originated.
type SourceClass string

const (
	// SourceNative marks tokens acquired on this chain.
	SourceNative SourceClass = "native"
	// SourceBridged marks tokens that arrived through a recognized bridge.
	SourceBridged SourceClass = "bridged"
	// SourceUnknown marks tokens whose origin could not be determined.
	SourceUnknown SourceClass = "unknown"
)

// Valid reports whether s is one of the known source classes.
func (s SourceClass) Valid() bool {
	switch s {
	case SourceNative, SourceBridged, SourceUnknown:
		return true
	}
	return false
}

// EventID identifies a single log event on chain. Two records with the same
// EventID describe the same on-chain event.
type EventID struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint64 `json:"log_index"`
}

func (id EventID) String() string {
	return fmt.Sprintf("%s:%d", id.TxHash, id.LogIndex)
}

// MigrationRecord is the normalized representation of one token migration
// event for storage and analytics.
type MigrationRecord struct {
	TxHash         string          `json:"tx_hash"`
	LogIndex       uint64          `json:"log_index"`
	BlockNumber    uint64          `json:"block_number"`
	BlockTimestamp uint64          `json:"block_timestamp"`
	FromAddress    string          `json:"from_address"`
	ToAddress      string          `json:"to_address"`
	RawAmount      *big.Int        `json:"raw_amount"`
	ScaledAmount   decimal.Decimal `json:"scaled_amount"`
	Source         SourceClass     `json:"source"`
	IngestedAt     string          `json:"ingested_at"`
}

// ID returns the event identity used for deduplication.
func (r MigrationRecord) ID() EventID {
	return EventID{TxHash: r.TxHash, LogIndex: r.LogIndex}
}

// MarshalJSON encodes RawAmount as a decimal string so amounts above 2^53
// survive JSON consumers.
func (r MigrationRecord) MarshalJSON() ([]byte, error) {
	type Alias MigrationRecord
	raw := "0"
	if r.RawAmount != nil {
		raw = r.RawAmount.String()
	}
	return json.Marshal(struct {
		Alias
		RawAmount string `json:"raw_amount"`
	}{Alias: Alias(r), RawAmount: raw})
}

// UnmarshalJSON decodes a MigrationRecord, parsing RawAmount from its string
// form.
func (r *MigrationRecord) UnmarshalJSON(data []byte) error {
	type Alias MigrationRecord
	aux := struct {
		*Alias
		RawAmount string `json:"raw_amount"`
	}{Alias: (*Alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.RawAmount == "" {
		r.RawAmount = new(big.Int)
		return nil
	}
	v, ok := new(big.Int).SetString(aux.RawAmount, 10)
	if !ok {
		return fmt.Errorf("invalid raw_amount %q", aux.RawAmount)
	}
	r.RawAmount = v
	return nil
}

// ScaleRawAmount converts a raw integer token amount into its human scale
// using the token's decimals, rounded half-to-even at ScaledPrecision.
func ScaleRawAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).RoundBank(ScaledPrecision)
}

// NormalizeAddress lowercases a hex address so map keys and queries compare
// consistently regardless of checksum casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
