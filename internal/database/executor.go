package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a SurrealQL statement and returns the rows of its first
// result set, decoded into T.
//
// Example:
//
//	rows, err := Query[map[string]any](ctx, db, "SELECT * FROM chats ORDER BY id", nil)
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	queryResults, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, queryFailed(query, err)
	}
	if queryResults == nil || len(*queryResults) == 0 {
		return nil, nil
	}
	first := (*queryResults)[0]
	if first.Status != "" && first.Status != "OK" {
		return nil, queryFailed(query, fmt.Errorf("statement status %s", first.Status))
	}
	return first.Result, nil
}

// QueryOne executes a query and returns a single row, or nil, nil if there
// are none. SELECT statements without a LIMIT get LIMIT 1 appended.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	// CREATE/UPDATE/DELETE statements don't support LIMIT.
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}

	results, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Execute runs a statement whose rows are not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return queryFailed(query, err)
	}
	return nil
}

func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}
