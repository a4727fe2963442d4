package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"carparts/backend/internal/store"
	"carparts/backend/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

type Store struct {
	*sqlstore.Store
}

// Dialect runs transactions at READ COMMITTED and locks touched rows with
// SELECT ... FOR UPDATE.
var Dialect = sqlstore.Dialect{
	Name:      "postgres",
	ForUpdate: " FOR UPDATE",
	TxOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	Classify:  classify,
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{Store: sqlstore.New(db, Dialect)}
	if err := s.Migrate(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		return &store.ValidationError{Field: pgErr.ConstraintName, Message: "duplicate value"}
	case "23503":
		return &store.ValidationError{Field: pgErr.ConstraintName, Message: "referenced record does not exist"}
	case "23514":
		if strings.HasPrefix(pgErr.ConstraintName, "parts_") {
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidState, pgErr.ConstraintName)
	}
	return err
}
