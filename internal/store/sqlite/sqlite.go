// Package sqlite is the single-node backend over mattn/go-sqlite3. Writes use
// BEGIN IMMEDIATE, so one writer holds the database at a time and row locks are
// not needed.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"carparts/backend/internal/store"
	"carparts/backend/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

type Store struct {
	*sqlstore.Store
}

var Dialect = sqlstore.Dialect{
	Name:     "sqlite",
	Rebind:   sqlstore.QuestionRebind,
	Classify: classify,
}

// New opens (and migrates) the database at path. Use ":memory:" for a private
// in-memory database; it is pinned to one connection so every query sees it.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	memory := path == ":memory:"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	s := &Store{Store: sqlstore.New(db, Dialect)}
	if err := s.Migrate(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func classify(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %s", store.ErrConflict, sqliteErr.Error())
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &store.ValidationError{Field: constraintTarget(sqliteErr.Error()), Message: "duplicate value"}
	case sqlite3.ErrConstraintForeignKey:
		return &store.ValidationError{Message: "referenced record does not exist"}
	case sqlite3.ErrConstraintCheck:
		if strings.Contains(sqliteErr.Error(), "parts_") {
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, sqliteErr.Error())
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidState, sqliteErr.Error())
	}
	return err
}

// constraintTarget pulls "table.column" out of "UNIQUE constraint failed: table.column".
func constraintTarget(msg string) string {
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return ""
}
