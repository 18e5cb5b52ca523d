package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When identifiers are given, at least one must match the violated constraint:
// either the Postgres constraint name (ux_ratings_image_hash) or the SQLite
// table.column form (ratings.image_hash).
func IsUniqueViolation(err error, identifiers ...string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == pgUniqueViolation && matchesAny(pgxErr.ConstraintName+" "+pgxErr.Message, identifiers)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation && matchesAny(pqErr.Constraint+" "+pqErr.Message, identifiers)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return matchesAny(msg, identifiers)
}

func matchesAny(haystack string, identifiers []string) bool {
	if len(identifiers) == 0 {
		return true
	}
	for _, id := range identifiers {
		if id != "" && strings.Contains(haystack, id) {
			return true
		}
	}
	return false
}
