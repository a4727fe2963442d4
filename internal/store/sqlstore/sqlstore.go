// Package sqlstore is the database/sql repository shared by the PostgreSQL and
// SQLite backends. Queries are written with $n placeholders; a Dialect rebinds
// them and supplies row locking and driver error classification.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"carparts/backend/internal/store"
)

// Dialect captures what differs between the supported databases.
type Dialect struct {
	Name string
	// ForUpdate is appended to row reads inside a transaction.
	ForUpdate string
	// Rebind rewrites $n placeholders; nil leaves the query unchanged.
	Rebind    func(query string) string
	TxOptions *sql.TxOptions
	// Classify maps driver errors onto store sentinels. It returns the input
	// unchanged when nothing matches.
	Classify func(err error) error
}

var dollarPlaceholder = regexp.MustCompile(`\$(\d+)`)

// QuestionRebind turns $n into ?n, which SQLite binds by explicit index.
func QuestionRebind(query string) string {
	return dollarPlaceholder.ReplaceAllString(query, "?${1}")
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn wraps a querier and applies the dialect's rebinding.
type conn struct {
	q       querier
	dialect Dialect
}

func (c conn) rebind(query string) string {
	if c.dialect.Rebind == nil {
		return query
	}
	return c.dialect.Rebind(query)
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Repository = (*Store)(nil)

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) conn() conn {
	return conn{q: s.db, dialect: s.dialect}
}

// Migrate executes a schema script statement by statement.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&txRepo{c: conn{q: sqlTx, dialect: s.dialect}}); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) classify(err error) error {
	return classify(s.dialect, err)
}

func classify(d Dialect, err error) error {
	if err == nil || isDomainError(err) || d.Classify == nil {
		return err
	}
	return d.Classify(err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		store.ErrNotFound,
		store.ErrInsufficientStock,
		store.ErrOverRefund,
		store.ErrInvalidState,
		store.ErrValidation,
		store.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// filter accumulates WHERE clauses with numbered placeholders.
type filter struct {
	clauses []string
	args    []any
}

// add formats clause with the next placeholder index; use %[1]d to repeat it.
func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func (f *filter) page(limit int, offset int) string {
	var b strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(f.args))
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT.
			f.args = append(f.args, math.MaxInt32)
			fmt.Fprintf(&b, " LIMIT $%d", len(f.args))
		}
		f.args = append(f.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(f.args))
	}
	return b.String()
}
