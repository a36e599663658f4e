package common

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailure marks a malformed record. The record is skipped and
	// the surrounding batch continues.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrNormalizationUnavailable is returned when the terminology service
	// cannot be reached. It is never fatal for persistence.
	ErrNormalizationUnavailable = errors.New("normalization unavailable")

	// ErrGraphTraversalTruncated marks a graph search that hit its iteration,
	// node or time budget and returned a partial result.
	ErrGraphTraversalTruncated = errors.New("graph traversal truncated")

	// ErrModalityUnavailable is returned by a scorer whose upstream service
	// (embedding service, text index) cannot serve the query.
	ErrModalityUnavailable = errors.New("modality unavailable")

	// ErrAllModalitiesUnavailable is returned when no enabled scorer produced
	// a result list.
	ErrAllModalitiesUnavailable = errors.New("all retrieval modalities unavailable")

	// ErrInvalidQuery is the sentinel behind every InvalidQueryError.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNotFound is returned for lookups of unknown or out-of-scope ids.
	ErrNotFound = errors.New("not found")

	// ErrSelfLoop is returned when a relationship would connect an entity to itself.
	ErrSelfLoop = errors.New("relationship source and target are the same entity")

	// ErrConfidenceOutOfRange is returned for confidence values outside [0, 1].
	ErrConfidenceOutOfRange = errors.New("confidence out of range")
)

// InvalidQueryError describes a rejected query parameter.
type InvalidQueryError struct {
	Field  string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

func (e *InvalidQueryError) Unwrap() error {
	return ErrInvalidQuery
}

// ExtractionError wraps the cause of a record-level extraction failure.
type ExtractionError struct {
	RecordID string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failure for record %q: %v", e.RecordID, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailure, e.Err}
}
