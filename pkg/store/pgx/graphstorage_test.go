package pgx

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "no rows", in: pgxv5.ErrNoRows, want: common.ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("scan: %w", pgxv5.ErrNoRows), want: common.ErrNotFound},
		{name: "foreign key", in: &pgconn.PgError{Code: "23503", ConstraintName: "relationships_target_fk"}, want: common.ErrNotFound},
		{name: "self loop check", in: &pgconn.PgError{Code: "23514", ConstraintName: "relationships_no_self_loop"}, want: common.ErrSelfLoop},
		{name: "other check", in: &pgconn.PgError{Code: "23514", ConstraintName: "entities_confidence_range"}, want: store.ErrInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.in); !errors.Is(got, tt.want) {
				t.Fatalf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}

	if mapError(nil) != nil {
		t.Fatalf("mapError(nil) should be nil")
	}
	other := errors.New("connection reset")
	if got := mapError(other); got != other {
		t.Fatalf("mapError() changed an unrelated error: %v", got)
	}
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func maxPlaceholder(sql string) int {
	n := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(sql, -1) {
		var v int
		fmt.Sscanf(m[1], "%d", &v)
		n = max(n, v)
	}
	return n
}

func TestStatementPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		args int
	}{
		{name: "upsert entity", sql: upsertEntitySQL, args: len(entityArgs("id", common.Entity{}))},
		{name: "upsert relationship", sql: upsertRelationshipSQL, args: len(relationshipArgs("id", common.Relationship{}))},
		{name: "get entity", sql: getEntitySQL, args: 3},
		{name: "get entities", sql: getEntitiesSQL, args: 3},
		{name: "neighbors", sql: neighborsSQL, args: 6},
		{name: "relationships among", sql: relationshipsAmongSQL, args: 3},
		{name: "search by embedding", sql: searchByEmbeddingSQL, args: 4},
		{name: "search by text", sql: searchByTextSQL, args: 6},
		{name: "upsert record", sql: upsertRecordSQL, args: 5},
		{name: "set canonical", sql: setCanonicalSQL, args: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maxPlaceholder(tt.sql); got != tt.args {
				t.Fatalf("statement uses %d placeholders, caller passes %d", got, tt.args)
			}
			if strings.Contains(tt.sql, "%") {
				t.Fatalf("statement contains a format verb")
			}
		})
	}
}

func TestRelationshipTypes(t *testing.T) {
	got := relationshipTypes([]common.RelationshipType{common.RelTreats, common.RelCoOccursWith})
	if len(got) != 2 || got[0] != "TREATS" || got[1] != "CO_OCCURS_WITH" {
		t.Fatalf("relationshipTypes() = %v", got)
	}
	if got := relationshipTypes(nil); got == nil || len(got) != 0 {
		t.Fatalf("relationshipTypes(nil) should be an empty, non-nil slice: %v", got)
	}
}

func TestWithBatchSize(t *testing.T) {
	s := NewGraphDBStorageWithConnection(nil, WithBatchSize(10), nil)
	if s.batchSize != 10 {
		t.Fatalf("batchSize = %d, want 10", s.batchSize)
	}
	s = NewGraphDBStorageWithConnection(nil, WithBatchSize(-1))
	if s.batchSize != defaultBatchSize {
		t.Fatalf("negative batch size should keep the default, got %d", s.batchSize)
	}
}
