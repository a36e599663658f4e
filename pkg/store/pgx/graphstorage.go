package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultBatchSize = 250

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStorage interface using PostgreSQL with
// pgvector for vector similarity search. All statements are parameterised
// constants; patient and encounter scope is applied inside every read query.
type GraphDBStorage struct {
	conn      pgxIConn
	batchSize int
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithBatchSize sets how many upserts are pipelined in one batch while
// saving a record graph.
func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an
// existing database connection or pool. The pgvector types must already be
// registered on the connection.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// mapError translates driver errors into the common error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", common.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			if pgErr.ConstraintName == "relationships_no_self_loop" {
				return common.ErrSelfLoop
			}
			return fmt.Errorf("%w: %s", store.ErrInvalidGraph, pgErr.ConstraintName)
		}
	}
	return err
}

func relationshipTypes(types []common.RelationshipType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
