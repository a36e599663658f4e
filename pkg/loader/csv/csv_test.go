package csv

import (
	"testing"
	"time"
)

func TestParseRecords(t *testing.T) {
	content := "\ufeffRecord_ID,patient_id,encounter_id,recorded_at,free_text,free_text,coded_fields\n" +
		"rec-1,pat-1,enc-1,2026-03-02T10:15:00Z,\"Type 2 diabetes, well controlled.\",On metformin.,condition|ICD-10|E11.9|Type 2 diabetes;medication|RxNorm|6809|metformin\n" +
		",,,,,,\n" +
		"rec-2,pat-2,,2026-03-04,,,\n"

	recs, err := ParseRecords([]byte(content))
	if err != nil {
		t.Fatalf("ParseRecords() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %+v, want 2", recs)
	}

	first := recs[0]
	if first.RecordID != "rec-1" || first.PatientID != "pat-1" || first.EncounterID != "enc-1" {
		t.Fatalf("ids = %+v", first)
	}
	if !first.RecordedAt.Equal(time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("recorded_at = %v", first.RecordedAt)
	}
	if len(first.FreeText) != 2 || first.FreeText[0] != "Type 2 diabetes, well controlled." {
		t.Fatalf("free text = %q", first.FreeText)
	}
	if len(first.CodedFields) != 2 || first.CodedFields[1].System != "RxNorm" || first.CodedFields[1].Code != "6809" {
		t.Fatalf("coded fields = %+v", first.CodedFields)
	}

	if recs[1].RecordedAt.IsZero() || len(recs[1].FreeText) != 0 || recs[1].CodedFields == nil {
		t.Fatalf("second record = %+v", recs[1])
	}
}

func TestParseRecordsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "missing patient column", content: "record_id,free_text\nr1,x\n"},
		{name: "bad date", content: "record_id,patient_id,recorded_at\nr1,p1,not a date\n"},
		{name: "bad coded field", content: "record_id,patient_id,coded_fields\nr1,p1,ICD-10|E11\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRecords([]byte(tt.content)); err == nil {
				t.Fatalf("ParseRecords() expected an error")
			}
		})
	}
}
