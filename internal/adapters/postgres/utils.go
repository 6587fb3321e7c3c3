package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const DefaultQueryTimeout = 30 * time.Second

// withTimeout wraps a context with a default query timeout if not already set
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// checkNoRows returns true if the error is pgx.ErrNoRows
func checkNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// marshalJSONField marshals a value to JSON, handling nil pointers
func marshalJSONField[T any](value *T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

// unmarshalJSONField unmarshals a JSON byte slice into the target pointer.
// Empty data is not an error.
func unmarshalJSONField[T any](data []byte, target *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
