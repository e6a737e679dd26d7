package store

import (
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"didvault/pkg/platform/sentinel"
)

// ErrNotFound is returned when a credential id is unknown.
var ErrNotFound = sentinel.ErrNotFound

// ErrDuplicate is returned when a credential id is saved twice.
var ErrDuplicate = sentinel.ErrConflict

// Schema creates the credentials table.
//
//go:embed schema.sql
var Schema string

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
