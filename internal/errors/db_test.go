package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "no rows", err: sql.ErrNoRows, want: ErrCodeNotFound},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: ErrCodeTransient},
		{name: "connection failure", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, want: ErrCodeTransient},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgerrcode.AdminShutdown}, want: ErrCodeTransient},
		{name: "missing table", err: &pgconn.PgError{Code: pgerrcode.UndefinedTable}, want: ErrCodeInternal},
		{name: "other pg error", err: &pgconn.PgError{Code: pgerrcode.DivisionByZero}, want: ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapDBError(tt.err)
			assert.Equal(t, tt.want, GetCode(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapDBError_Passthrough(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
	plain := errors.New("plain")
	assert.Same(t, plain, MapDBError(plain))
}
