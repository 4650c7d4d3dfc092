package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
)

func TestStorageErr(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStorage   bool
		wantRetryable bool
	}{
		{name: "nil", err: nil},
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, wantStorage: true, wantRetryable: true},
		{name: "deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, wantStorage: true, wantRetryable: true},
		{name: "check violation", err: &pgconn.PgError{Code: pgerrcode.CheckViolation}, wantStorage: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, wantStorage: true},
		{name: "connection failure", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, wantStorage: true, wantRetryable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgerrcode.AdminShutdown}, wantStorage: true, wantRetryable: true},
		{name: "too many connections", err: &pgconn.PgError{Code: pgerrcode.TooManyConnections}, wantStorage: true, wantRetryable: true},
		{name: "dial refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, wantStorage: true, wantRetryable: true},
		{name: "bad conn", err: driver.ErrBadConn, wantStorage: true, wantRetryable: true},
		{name: "plain error", err: errors.New("boom"), wantStorage: true},
		{name: "canceled", err: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storageErr("storage.Test", tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.wantStorage, errors.Is(got, billing.ErrStorage))
			assert.Equal(t, tt.wantRetryable, billing.IsRetryable(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
