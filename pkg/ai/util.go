package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// ErrInvalidOutput is returned when a structured completion target is not a
// non-nil pointer.
var ErrInvalidOutput = errors.New("out must be a non-nil pointer")

var schemaCache sync.Map

// CheckOutput verifies that out can receive a decoded completion.
func CheckOutput(out any) error {
	if out == nil {
		return ErrInvalidOutput
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidOutput
	}
	return nil
}

// GenerateSchema creates a JSON Schema from the given Go type. Schemas are
// cached per type since extraction reuses the same few output structs.
func GenerateSchema(value any) any {
	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if s, ok := schemaCache.Load(t); ok {
		return s
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.Reflect(reflect.New(t).Interface())
	schemaCache.Store(t, s)
	return s
}

// UnmarshalFlexible decodes model output into out. Plain JSON is tried
// first, then double-encoded JSON strings, and finally a repaired version of
// the input.
//
//	UnmarshalFlexible(`{"entities": []}`, &res)
//	UnmarshalFlexible(`"{\"entities\": []}"`, &res)
//	UnmarshalFlexible("```json\n{entities: []}\n```", &res)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripCodeFence(input)
	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w (repaired: %s)", err, repaired)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func stripDuplicateLeadingBrace(s string) string {
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}
