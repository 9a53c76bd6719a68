package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/notenetra/creditscore/internal/domain"
)

// ErrUnknownFormat is returned by ReadFile for extensions other than
// .json and .csv.
var ErrUnknownFormat = errors.New("unknown ledger file format")

// ReadFile reads raw records from a .json or .csv ledger export.
func ReadFile(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(f)
	case ".csv":
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// ReadJSON accepts either an array of records or an object with a
// "records" array, as posted to /score.
func ReadJSON(r io.Reader) ([]domain.RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	var records []domain.RawRecord
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode ledger: %w", err)
		}
		return records, nil
	}

	var wrapped struct {
		Records []domain.RawRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	return wrapped.Records, nil
}

// csvColumns maps accepted header names to record fields.
var csvColumns = map[string]string{
	"id":        "id",
	"timestamp": "timestamp",
	"time":      "timestamp",
	"amount":    "amount",
	"direction": "direction",
	"type":      "direction",
	"channel":   "channel",
	"mode":      "channel",
}

// ReadCSV reads a ledger with a header row. Columns are matched by name,
// case-insensitively; timestamp, amount and direction are required.
func ReadCSV(r io.Reader) ([]domain.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		if field, ok := csvColumns[strings.ToLower(strings.TrimSpace(col))]; ok {
			if _, seen := colIndex[field]; !seen {
				colIndex[field] = i
			}
		}
	}
	for _, required := range []string{"timestamp", "amount", "direction"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}

	get := func(row []string, field string) string {
		i, ok := colIndex[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []domain.RawRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, domain.RawRecord{
			ID:        get(row, "id"),
			Timestamp: get(row, "timestamp"),
			Amount:    get(row, "amount"),
			Direction: get(row, "direction"),
			Channel:   get(row, "channel"),
		})
	}
	return records, nil
}
