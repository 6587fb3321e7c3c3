package postgres

import (
	"context"

	"github.com/pashagolub/pgxmock/v4"
)

// mockCtx plants the pgxmock pool where conn() looks for an active
// transaction, so repository methods run against the mock.
func mockCtx(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey, mock)
}
