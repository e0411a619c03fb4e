// Package pgerr classifies Postgres errors returned through lib/pq.
package pgerr

import (
	"errors"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

func code(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return code(err) == codeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return code(err) == codeForeignKeyViolation
}

// IsRetryable reports serialization failures and deadlocks, which succeed
// when the transaction is run again.
func IsRetryable(err error) bool {
	c := code(err)
	return c == codeSerialization || c == codeDeadlock
}

// Constraint returns the violated constraint name, if any.
func Constraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
