package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"

	"github.com/araddon/dateparse"
)

// Column names of a record batch. The header row is required; column order
// is free and names are matched case-insensitively. free_text may appear
// more than once, each column becomes one free-text segment.
const (
	ColumnRecordID    = "record_id"
	ColumnPatientID   = "patient_id"
	ColumnEncounterID = "encounter_id"
	ColumnRecordedAt  = "recorded_at"
	ColumnFreeText    = "free_text"
	ColumnCodedFields = "coded_fields"
)

// ParseRecords decodes a CSV record batch. Coded fields are written as
// "type|system|code|display" and separated by ";". Blank rows are skipped.
func ParseRecords(content []byte) ([]common.Record, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string][]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		cols[name] = append(cols[name], i)
	}
	if len(cols[ColumnRecordID]) == 0 || len(cols[ColumnPatientID]) == 0 {
		return nil, fmt.Errorf("header needs %s and %s columns", ColumnRecordID, ColumnPatientID)
	}

	var recs []common.Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if isEmpty(row) {
			continue
		}

		rec, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func parseRow(row []string, cols map[string][]int) (common.Record, error) {
	rec := common.Record{
		RecordID:    field(row, cols, ColumnRecordID),
		PatientID:   field(row, cols, ColumnPatientID),
		EncounterID: field(row, cols, ColumnEncounterID),
		CodedFields: []common.CodedField{},
		FreeText:    []string{},
	}

	if raw := field(row, cols, ColumnRecordedAt); raw != "" {
		t, err := dateparse.ParseAny(raw)
		if err != nil {
			return rec, fmt.Errorf("%s %q: %w", ColumnRecordedAt, raw, err)
		}
		rec.RecordedAt = t.UTC()
	}

	for _, i := range cols[ColumnFreeText] {
		if i < len(row) && strings.TrimSpace(row[i]) != "" {
			rec.FreeText = append(rec.FreeText, strings.TrimSpace(row[i]))
		}
	}

	for _, raw := range strings.Split(field(row, cols, ColumnCodedFields), ";") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parts := strings.Split(raw, "|")
		if len(parts) != 4 {
			return rec, fmt.Errorf("coded field %q: want type|system|code|display", raw)
		}
		rec.CodedFields = append(rec.CodedFields, common.CodedField{
			Type:    strings.TrimSpace(parts[0]),
			System:  strings.TrimSpace(parts[1]),
			Code:    strings.TrimSpace(parts[2]),
			Display: strings.TrimSpace(parts[3]),
		})
	}

	return rec, nil
}

func field(row []string, cols map[string][]int, name string) string {
	idx := cols[name]
	if len(idx) == 0 || idx[0] >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx[0]])
}

func isEmpty(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
