package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromDSNRejectsMalformedDSN(t *testing.T) {
	_, err := newFromDSN(t.Context(), "not-a-dsn postgres://\x00")
	require.Error(t, err)
}

func TestDBCloseOnNilPoolDoesNotPanic(t *testing.T) {
	d := &DB{}
	assert.NotPanics(t, func() { d.Close() })
}

func TestDBHealthErrorsOnNilPool(t *testing.T) {
	d := &DB{}
	err := d.Health(t.Context())
	assert.Error(t, err)
}

func TestExecuteWithCircuitBreakerPassesThroughResult(t *testing.T) {
	d := &DB{breaker: newBreaker()}
	result, err := d.ExecuteWithCircuitBreaker(func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

var errOperationFailed = &testError{"operation failed"}

func TestExecuteWithCircuitBreakerPropagatesOperationError(t *testing.T) {
	d := &DB{breaker: newBreaker()}
	_, err := d.ExecuteWithCircuitBreaker(func() (interface{}, error) {
		return nil, errOperationFailed
	})
	assert.ErrorIs(t, err, errOperationFailed)
}

func TestNewBreakerTripsAfterRepeatedFailures(t *testing.T) {
	b := newBreaker()
	for i := 0; i < 6; i++ {
		_, _ = b.Execute(func() (interface{}, error) { return nil, errOperationFailed })
	}
	_, err := b.Execute(func() (interface{}, error) { return "unreachable", nil })
	assert.Error(t, err)
}
