// Package export renders migration records to CSV, JSON, and JSONL files.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"migrationScope/internal/aggregate"
	"migrationScope/internal/model"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFormat recognizes csv, json, and jsonl, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatJSONL:
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

var csvHeader = []string{
	"tx_hash",
	"log_index",
	"block_number",
	"block_timestamp",
	"from_address",
	"to_address",
	"raw_amount",
	"scaled_amount",
	"source",
	"ingested_at",
}

// Write renders records to w in the given format.
func Write(w io.Writer, format Format, records []model.MigrationRecord) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatJSONL:
		return WriteJSONL(w, records)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// WriteFile writes records to path in the given format, creating parent
// directories as needed.
func WriteFile(path string, format Format, records []model.MigrationRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	return Write(file, format, records)
}

// WriteCSV writes a header row followed by one row per record. Raw amounts
// are written as decimal strings.
func WriteCSV(w io.Writer, records []model.MigrationRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, record := range records {
		raw := "0"
		if record.RawAmount != nil {
			raw = record.RawAmount.String()
		}
		row := []string{
			record.TxHash,
			strconv.FormatUint(record.LogIndex, 10),
			strconv.FormatUint(record.BlockNumber, 10),
			strconv.FormatUint(record.BlockTimestamp, 10),
			record.FromAddress,
			record.ToAddress,
			raw,
			record.ScaledAmount.String(),
			string(record.Source),
			record.IngestedAt,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes all records as one indented JSON array. An empty input
// yields an empty array, not null.
func WriteJSON(w io.Writer, records []model.MigrationRecord) error {
	if records == nil {
		records = []model.MigrationRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

// WriteJSONL writes each record as one JSON line.
func WriteJSONL(w io.Writer, records []model.MigrationRecord) error {
	writer := bufio.NewWriter(w)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// WriteReport writes an aggregate report as indented JSON.
func WriteReport(w io.Writer, report aggregate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteReportFile writes an aggregate report to path, creating parent
// directories as needed.
func WriteReportFile(path string, report aggregate.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	return WriteReport(file, report)
}
