package commit

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

var conflictMarkers = []string{
	"duplicate key",
	"unique constraint",
}

// IsConflict reports whether err is a unique-key conflict: a Postgres
// unique violation, or any error whose text names a duplicate key or unique
// constraint (SQLite reports "UNIQUE constraint failed").
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range conflictMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
