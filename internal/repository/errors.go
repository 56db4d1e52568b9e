package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors produced when a store-level uniqueness constraint fires
// past the application-side existence check.
var (
	ErrUsernameTaken    = errors.New("username already taken")
	ErrStudentCodeTaken = errors.New("student code already taken")
)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally narrowed to a specific constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolationCode {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
