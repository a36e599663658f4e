package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

func findEntity(entities []common.Entity, text string, t common.EntityType) (common.Entity, bool) {
	for _, e := range entities {
		if common.TextKey(e.Text) == common.TextKey(text) && e.Type == t {
			return e, true
		}
	}
	return common.Entity{}, false
}

func TestExtractCodedCondition(t *testing.T) {
	rec := common.Record{
		RecordID:  "rec-1",
		PatientID: "pat-1",
		CodedFields: []common.CodedField{
			{Type: "CONDITION", System: "http://snomed.info/sct", Code: "22298006", Display: "Myocardial infarction"},
		},
	}

	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected exactly one entity, got %d: %+v", len(entities), entities)
	}
	e := entities[0]
	if e.Type != common.EntityCondition || e.Confidence != 1.0 || e.CodedCode != "22298006" {
		t.Fatalf("unexpected entity %+v", e)
	}
	if e.ExtractionMethod != common.MethodStructured || e.SourceRecordID != "rec-1" || e.PatientID != "pat-1" {
		t.Fatalf("unexpected provenance %+v", e)
	}
}

func TestExtractStructuredWinsOverFreeText(t *testing.T) {
	rec := common.Record{
		RecordID:    "rec-1",
		PatientID:   "pat-1",
		CodedFields: []common.CodedField{{Type: "condition", System: "SNOMED", Code: "22298006", Display: "myocardial infarction"}},
		FreeText:    []string{"Admitted with myocardial infarction."},
	}

	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	e, ok := findEntity(entities, "myocardial infarction", common.EntityCondition)
	if !ok {
		t.Fatalf("missing entity: %+v", entities)
	}
	if e.ExtractionMethod != common.MethodStructured || e.Confidence != 1.0 {
		t.Fatalf("expected the coded entity to win, got %+v", e)
	}
	count := 0
	for _, x := range entities {
		if x.Key() == e.Key() {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one entity per key, got %d", count)
	}
}

func TestExtractMalformedCodedFieldFallsBack(t *testing.T) {
	rec := common.Record{
		RecordID:  "rec-2",
		PatientID: "pat-1",
		CodedFields: []common.CodedField{
			{Type: "OBSERVATION", Code: "x", Display: "chest pain"},
			{Type: "MEDICATION"},
		},
	}

	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected one entity, got %+v", entities)
	}
	e := entities[0]
	if e.Type != common.EntitySymptom || e.ExtractionMethod != common.MethodPattern {
		t.Fatalf("unexpected entity %+v", e)
	}
	if e.Confidence >= 1.0 || e.Confidence < DefaultThreshold {
		t.Fatalf("inferred confidence out of bounds: %v", e.Confidence)
	}
}

func TestExtractCodeWithoutDisplay(t *testing.T) {
	rec := common.Record{
		RecordID:    "rec-3",
		PatientID:   "pat-1",
		CodedFields: []common.CodedField{{Type: "MEDICATION", System: "RXNORM", Code: "6809"}},
	}
	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entities) != 1 || entities[0].Text != "6809" || entities[0].Confidence != 1.0 {
		t.Fatalf("unexpected entities %+v", entities)
	}
}

func TestExtractInvalidRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  common.Record
	}{
		{name: "missing record id", rec: common.Record{PatientID: "p"}},
		{name: "missing patient id", rec: common.Record{RecordID: "r"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEntityExtractor().Extract(context.Background(), tc.rec)
			if !errors.Is(err, common.ErrExtractionFailure) {
				t.Fatalf("expected extraction failure, got %v", err)
			}
		})
	}
}

func TestExtractEmptyRecord(t *testing.T) {
	entities, err := NewEntityExtractor().Extract(context.Background(), common.Record{
		RecordID:  "r",
		PatientID: "p",
		FreeText:  []string{"Nothing of clinical interest was discussed."},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected no entities, got %+v", entities)
	}
}

func TestExtractFreeText(t *testing.T) {
	rec := common.Record{
		RecordID:  "rec-4",
		PatientID: "pat-1",
		FreeText: []string{
			"Patient reports chest pain and shortness of breath. History of type 2 diabetes on metformin 500 mg BID. HbA1c 8.2%.",
		},
	}

	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []struct {
		text string
		typ  common.EntityType
	}{
		{"chest pain", common.EntitySymptom},
		{"shortness of breath", common.EntitySymptom},
		{"type 2 diabetes", common.EntityCondition},
		{"metformin", common.EntityMedication},
		{"HbA1c 8.2%", common.EntityLabValue},
	}
	for _, w := range want {
		e, ok := findEntity(entities, w.text, w.typ)
		if !ok {
			t.Fatalf("missing %s (%s) in %+v", w.text, w.typ, entities)
		}
		if e.Confidence < DefaultThreshold || e.Confidence >= 1.0 {
			t.Fatalf("confidence of %s out of bounds: %v", w.text, e.Confidence)
		}
	}
	if len(entities) != len(want) {
		t.Fatalf("expected %d entities, got %d: %+v", len(want), len(entities), entities)
	}
}

func TestExtractThreshold(t *testing.T) {
	rec := common.Record{RecordID: "r", PatientID: "p", FreeText: []string{"Patient denies fever."}}

	entities, err := NewEntityExtractor().Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := findEntity(entities, "fever", common.EntitySymptom); ok {
		t.Fatalf("negated mention should fall below the default threshold")
	}

	entities, err = NewEntityExtractor(WithEntityThreshold(0.5)).Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := findEntity(entities, "fever", common.EntitySymptom); !ok {
		t.Fatalf("negated mention should pass a lower threshold")
	}
}

type failingMethod struct{}

func (failingMethod) Method() common.ExtractionMethod { return common.MethodModel }

func (failingMethod) ExtractEntities(context.Context, common.Record, string) ([]common.Entity, error) {
	return nil, errors.New("model unavailable")
}

func TestExtractMethodFailureIsNotFatal(t *testing.T) {
	x := NewEntityExtractor(WithEntityMethods(NewPatternMethod(nil), failingMethod{}))
	entities, err := x.Extract(context.Background(), common.Record{
		RecordID:    "r",
		PatientID:   "p",
		CodedFields: []common.CodedField{{Type: "SYMPTOM", Display: "fever"}},
		FreeText:    []string{"Headache since yesterday."},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := findEntity(entities, "fever", common.EntitySymptom); !ok {
		t.Fatalf("missing coded entity")
	}
	if _, ok := findEntity(entities, "headache", common.EntitySymptom); !ok {
		t.Fatalf("missing pattern entity")
	}
}

func TestExtractLongTextIsChunkedAndDeduplicated(t *testing.T) {
	sentence := "Patient reports chest pain radiating to the left arm. "
	text := strings.Repeat(sentence, 200)

	x := NewEntityExtractor(WithChunking(512, 64))
	entities, err := x.Extract(context.Background(), common.Record{RecordID: "r", PatientID: "p", FreeText: []string{text}})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	count := 0
	for _, e := range entities {
		if e.Key() == (common.EntityKey{Text: "chest pain", Type: common.EntitySymptom}) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one deduplicated chest pain entity, got %d", count)
	}
}

func TestSplitText(t *testing.T) {
	short := "short note"
	if got := SplitText(short, 100, 10); len(got) != 1 || got[0] != short {
		t.Fatalf("short text should not be split: %q", got)
	}

	text := strings.Repeat("Schmerz über der Brust und Übelkeit. ", 300)
	chunks := SplitText(text, 1000, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1000 {
			t.Fatalf("chunk %d has %d bytes", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		head := chunks[i]
		if len(head) > 20 {
			head = head[:20]
		}
		if !strings.Contains(prev, strings.TrimSpace(head)) {
			t.Fatalf("chunk %d does not overlap with its predecessor", i)
		}
	}
	if !strings.HasSuffix(text, chunks[len(chunks)-1]) {
		t.Fatalf("last chunk must end the text")
	}
}

func TestSplitTextWithoutWhitespace(t *testing.T) {
	text := strings.Repeat("ä", 1000)
	chunks := SplitText(text, 101, 10)
	for i, c := range chunks {
		if !utf8.ValidString(c) || len(c) == 0 {
			t.Fatalf("chunk %d invalid: %q", i, c)
		}
	}
}

func TestPatternMethodSpecialCases(t *testing.T) {
	m := NewPatternMethod(nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		text     string
		wantText string
		wantType common.EntityType
		absent   bool
	}{
		{name: "ambiguous abbreviation with dose", text: "Given MS 2 mg IV for pain.", wantText: "MS", wantType: common.EntityMedication},
		{name: "abbreviation is case sensitive", text: "Latency was 5 ms.", wantText: "ms", wantType: common.EntityCondition, absent: true},
		{name: "unknown dosed medication", text: "Started apixaban 5 mg twice daily.", wantText: "apixaban", wantType: common.EntityMedication},
		{name: "lab value with unit", text: "Glucose 120 mg/dL this morning.", wantText: "Glucose 120 mg/dL", wantType: common.EntityLabValue},
		{name: "duration", text: "Cough for 3 days.", wantText: "for 3 days", wantType: common.EntityTemporal},
		{name: "iso date", text: "Seen on 2024-03-01 in clinic.", wantText: "2024-03-01", wantType: common.EntityTemporal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entities, err := m.ExtractEntities(ctx, common.Record{}, tc.text)
			if err != nil {
				t.Fatalf("ExtractEntities() error = %v", err)
			}
			_, ok := findEntity(entities, tc.wantText, tc.wantType)
			if ok == tc.absent {
				t.Fatalf("found=%v, want %v in %+v", ok, !tc.absent, entities)
			}
			for _, e := range entities {
				if e.Confidence < 0 || e.Confidence > 1 {
					t.Fatalf("confidence out of bounds: %+v", e)
				}
			}
		})
	}
}

func TestPatternMethodNegation(t *testing.T) {
	m := NewPatternMethod(nil)
	entities, err := m.ExtractEntities(context.Background(), common.Record{}, "No fever. Headache present.")
	if err != nil {
		t.Fatalf("ExtractEntities() error = %v", err)
	}
	fever, ok := findEntity(entities, "fever", common.EntitySymptom)
	if !ok {
		t.Fatalf("missing fever")
	}
	headache, ok := findEntity(entities, "headache", common.EntitySymptom)
	if !ok {
		t.Fatalf("missing headache")
	}
	if fever.Confidence >= headache.Confidence {
		t.Fatalf("negated mention should be down-weighted: %v >= %v", fever.Confidence, headache.Confidence)
	}
	if headache.Confidence != confidenceTerm {
		t.Fatalf("negation must not leak across sentences: %v", headache.Confidence)
	}
}
