package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// IsUniqueViolation reports a unique constraint violation, optionally
// restricted to one constraint name
func IsUniqueViolation(err error, constraint string) bool {
	return hasCode(err, pqUniqueViolation, constraint)
}

// IsCheckViolation reports a CHECK constraint violation, optionally
// restricted to one constraint name
func IsCheckViolation(err error, constraint string) bool {
	return hasCode(err, pqCheckViolation, constraint)
}

func hasCode(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
