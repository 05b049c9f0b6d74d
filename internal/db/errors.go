package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for store operations. Check with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTransactionConflict indicates concurrent writes touched the
	// same records. Callers should retry or skip.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps known SurrealDB query errors to sentinels.
// Returns the original error when it does not match a known pattern.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
		}
	}

	return err
}
