package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE codes this package maps to domain errors
const (
	pqUniqueViolation           = "23505"
	pqForeignKeyViolation       = "23503"
	pqCheckViolation            = "23514"
	pqInvalidTextRepresentation = "22P02" // e.g. a non-UUID string bound to a UUID column
)

// violation reports whether err is a PostgreSQL error with the given code.
// An empty constraint matches any constraint; otherwise names must match exactly.
func violation(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsUniqueViolation checks if err is a unique constraint violation
func IsUniqueViolation(err error, constraint string) bool {
	return violation(err, pqUniqueViolation, constraint)
}

// IsForeignKeyViolation checks if err is a foreign key violation
func IsForeignKeyViolation(err error, constraint string) bool {
	return violation(err, pqForeignKeyViolation, constraint)
}

// IsCheckViolation checks if err is a CHECK constraint violation
func IsCheckViolation(err error, constraint string) bool {
	return violation(err, pqCheckViolation, constraint)
}

// IsInvalidTextRepresentation checks if err is a failed cast of a text parameter
func IsInvalidTextRepresentation(err error) bool {
	return violation(err, pqInvalidTextRepresentation, "")
}
