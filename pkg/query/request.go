package query

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/retrieval"

	"github.com/go-playground/validator"
)

const (
	DefaultTopK           = 10
	DefaultVectorK        = 30
	DefaultTextK          = 30
	DefaultGraphK         = 10
	DefaultMaxQueryLength = 1024
)

// Request is a retrieval query. Pointer fields are optional; nil selects the
// default. Setting a k or a weight to 0 disables that modality.
type Request struct {
	QueryText   string `json:"query_text" validate:"required"`
	PatientID   string `json:"patient_id,omitempty" validate:"max=256"`
	EncounterID string `json:"encounter_id,omitempty" validate:"max=256"`

	TopK    *int `json:"top_k,omitempty" validate:"omitempty,min=1,max=200"`
	VectorK *int `json:"vector_k,omitempty" validate:"omitempty,min=0,max=1000"`
	TextK   *int `json:"text_k,omitempty" validate:"omitempty,min=0,max=1000"`
	GraphK  *int `json:"graph_k,omitempty" validate:"omitempty,min=0,max=1000"`

	GraphEnabled  *bool    `json:"graph_enabled,omitempty"`
	DampingFactor *float64 `json:"damping_factor,omitempty" validate:"omitempty,gt=0,lt=1"`
	RRFConstant   *float64 `json:"rrf_constant,omitempty" validate:"omitempty,gt=0,max=100000"`

	VectorWeight *float64 `json:"vector_weight,omitempty" validate:"omitempty,min=0,max=100"`
	TextWeight   *float64 `json:"text_weight,omitempty" validate:"omitempty,min=0,max=100"`
	GraphWeight  *float64 `json:"graph_weight,omitempty" validate:"omitempty,min=0,max=100"`

	// IncludeRecordText lets text search also match the source record text.
	IncludeRecordText bool `json:"include_record_text,omitempty"`
}

// Params is a validated Request with every default applied.
type Params struct {
	QueryText string
	Scope     common.Scope

	TopK    int
	VectorK int
	TextK   int
	GraphK  int

	Damping     float64
	RRFConstant float64
	Weights     map[retrieval.Modality]float64

	IncludeRecordText bool
}

// Enabled reports whether modality m takes part in the query.
func (p Params) Enabled(m retrieval.Modality) bool {
	if p.Weights[m] <= 0 {
		return false
	}
	switch m {
	case retrieval.ModalityVector:
		return p.VectorK > 0
	case retrieval.ModalityText:
		return p.TextK > 0
	case retrieval.ModalityGraph:
		return p.GraphK > 0
	}
	return false
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func invalid(field, reason string) error {
	return &common.InvalidQueryError{Field: field, Reason: reason}
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// resolve validates req and applies defaults. Every rejection is a
// *common.InvalidQueryError.
func resolve(v *validator.Validate, req Request, maxQueryLength int) (Params, error) {
	req.QueryText = strings.TrimSpace(req.QueryText)
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Params{}, invalid(verrs[0].Field(), validationReason(verrs[0]))
		}
		return Params{}, invalid("request", err.Error())
	}
	if n := utf8.RuneCountInString(req.QueryText); n > maxQueryLength {
		return Params{}, invalid("query_text", fmt.Sprintf("is %d characters long, the limit is %d", n, maxQueryLength))
	}
	for field, f := range map[string]*float64{
		"damping_factor": req.DampingFactor,
		"rrf_constant":   req.RRFConstant,
		"vector_weight":  req.VectorWeight,
		"text_weight":    req.TextWeight,
		"graph_weight":   req.GraphWeight,
	} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return Params{}, invalid(field, "must be a finite number")
		}
	}
	if req.EncounterID != "" && req.PatientID == "" {
		return Params{}, invalid("encounter_id", "requires patient_id")
	}

	p := Params{
		QueryText:   req.QueryText,
		Scope:       common.Scope{PatientID: req.PatientID, EncounterID: req.EncounterID},
		TopK:        intOr(req.TopK, DefaultTopK),
		VectorK:     intOr(req.VectorK, DefaultVectorK),
		TextK:       intOr(req.TextK, DefaultTextK),
		GraphK:      intOr(req.GraphK, DefaultGraphK),
		Damping:     floatOr(req.DampingFactor, retrieval.DefaultDamping),
		RRFConstant: floatOr(req.RRFConstant, retrieval.DefaultRRFConstant),
		Weights: map[retrieval.Modality]float64{
			retrieval.ModalityVector: floatOr(req.VectorWeight, 1),
			retrieval.ModalityText:   floatOr(req.TextWeight, 1),
			retrieval.ModalityGraph:  floatOr(req.GraphWeight, 1),
		},
		IncludeRecordText: req.IncludeRecordText,
	}
	if req.GraphEnabled != nil && !*req.GraphEnabled {
		p.GraphK = 0
	}

	if !p.Enabled(retrieval.ModalityVector) && !p.Enabled(retrieval.ModalityText) {
		return Params{}, invalid("modalities", "vector or text search must be enabled to seed the query")
	}
	return p, nil
}
