package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/example/ledgersync/internal/book"
)

type retryableConnErr struct{ msg string }

func (e *retryableConnErr) Error() string { return e.msg }
func (e *retryableConnErr) SafeToRetry() bool { return true }

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	// Constraint violations are conflicts, not retried.
	dup := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	var cErr *book.ConflictError
	assert.ErrorAs(t, classify(dup), &cErr)
	assert.False(t, book.IsRetryable(classify(dup)))

	// Connectivity failures in all their shapes are retryable.
	conn := fmt.Errorf("failed to connect: %w", &retryableConnErr{msg: "dial refused"})
	assert.True(t, book.IsRetryable(classify(conn)))

	timeout := fmt.Errorf("query: %w", &net.OpError{Op: "read", Err: errors.New("reset")})
	assert.True(t, book.IsRetryable(classify(timeout)))

	deadline := fmt.Errorf("query: %w", context.DeadlineExceeded)
	assert.True(t, book.IsRetryable(classify(deadline)))

	// Anything else passes through untouched.
	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
	assert.False(t, book.IsRetryable(classify(plain)))
}
