package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.CategoryStore = (*Store)(nil)
var _ storage.QuoteStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.ArticleStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.HealthCheckStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// NewX creates a Store from an existing sqlx handle.
func NewX(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// SQLSTATE codes mapped to storage.ErrConflict.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func mapErr(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == uniqueViolation || pqErr.Code == foreignKeyViolation) {
		return fmt.Errorf("%s %s violates %s: %w", kind, id, pqErr.Constraint, storage.ErrConflict)
	}
	return err
}

func mustAffect(result sql.Result, kind, id string) error {
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

func toJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func fromJSON(raw []byte, dst interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

func limitClause(page storage.Page) string {
	if page.Limit <= 0 {
		return fmt.Sprintf(" OFFSET %d", page.Offset)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
