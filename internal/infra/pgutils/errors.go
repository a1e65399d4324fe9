package pgutils

import (
	"errors"

	"github.com/fastprodman/starledger/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeObjectInUse         = "55006"
)

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}

	if len(constraint) == 0 {
		return true
	}

	for _, c := range constraint {
		if pgErr.ConstraintName == c {
			return true
		}
	}

	return false
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation
}

// ConstraintViolation reports a CHECK or FOREIGN KEY rejection as an
// invariant violation. Any other error is returned unchanged.
func ConstraintViolation(err error) error {
	if !IsCheckViolation(err) && !IsForeignKeyViolation(err) {
		return err
	}

	var pgErr *pgconn.PgError
	errors.As(err, &pgErr)

	e := apperr.Invariant("row rejected by a database constraint", map[string]any{
		"table":      pgErr.TableName,
		"constraint": pgErr.ConstraintName,
	})
	e.Cause = err

	return e
}

// IsObjectInUse reports a Postgres object_in_use error, e.g. cloning a
// database that still has sessions.
func IsObjectInUse(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeObjectInUse
}
