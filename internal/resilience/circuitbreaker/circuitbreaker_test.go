package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterFailures(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      4,
	})

	boom := errors.New("backend down")
	for i := 0; i < 4; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
	}

	assert.True(t, cb.IsOpen(), "breaker should be open after sustained failures")

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := New(SinkFlushConfig("memory"))

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return i, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, "sink-memory", cb.Name())
}
