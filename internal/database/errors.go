package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/periskope/internal/domain"
)

var (
	// ErrNotConnected means no usable SurrealDB connection exists right now.
	ErrNotConnected = errors.New("database not connected")

	// ErrQueryFailed marks a statement SurrealDB rejected or could not run.
	ErrQueryFailed = errors.New("query execution failed")

	// ErrUnexpectedResult means a row did not have the shape a store expects.
	ErrUnexpectedResult = errors.New("unexpected query result")

	// Aliases of the domain errors so store callers can match either.
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// StoreError records the store operation that failed and, when known, the
// SurrealQL it was running. Bound variables are never included since they
// carry message text and email addresses.
type StoreError struct {
	Op    string
	Query string
	Err   error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Query != "" {
		fmt.Fprintf(&b, " [query: %s]", e.Query)
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

// opError attributes err to op. An inner StoreError keeps its query and gets
// op prepended, so the message reads outermost operation first.
func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return &StoreError{Op: op + ": " + se.Op, Query: se.Query, Err: se.Err}
	}
	return &StoreError{Op: op, Err: err}
}

// queryFailed wraps a driver error so it matches both ErrQueryFailed and the
// driver's own error.
func queryFailed(query string, err error) *StoreError {
	return &StoreError{Op: "query", Query: query, Err: fmt.Errorf("%w: %w", ErrQueryFailed, err)}
}
