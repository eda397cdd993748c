// package operators implements the pipeline tasks that stage, load and check the warehouse.
//
// Each operator satisfies [tasks.Operator] and talks to the warehouse through a [Hook].
package operators

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Hook is a Postgres-compatible connection the operators run SQL through.
type Hook interface {
	Run(ctx context.Context, query string) error
	GetRecords(ctx context.Context, query string) ([][]any, error)
}

// SQLHook is a [Hook] over a [sql.DB].
type SQLHook struct {
	DB *sql.DB
}

// NewSQLHook wraps db.
func NewSQLHook(db *sql.DB) *SQLHook {
	return &SQLHook{DB: db}
}

// Run executes query, which may hold several statements.
func (h *SQLHook) Run(ctx context.Context, query string) error {
	if _, err := h.DB.ExecContext(ctx, query); err != nil {
		return err
	}
	return nil
}

// GetRecords returns every row of query as a slice of column values.
func (h *SQLHook) GetRecords(ctx context.Context, query string) ([][]any, error) {
	rows, err := h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		records = append(records, values)
	}
	return records, rows.Err()
}

// asInt64 converts a scanned driver value to an integer.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("value is NULL")
	}
	return 0, fmt.Errorf("unexpected value type %T", v)
}
