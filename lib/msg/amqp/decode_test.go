package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeDoesNotBlockOnUnreadErrors(t *testing.T) {
	r := &Amqp{log: zap.NewNop()}
	errs := make(chan error, 1)

	for i := 0; i < 3; i++ {
		_, ok := r.decode([]byte(`"garbage"`), errs)
		assert.False(t, ok)
	}

	require.Len(t, errs, 1, "the first error is kept for the caller")
	assert.Error(t, <-errs)

	e, ok := r.decode([]byte(`{"section":"capacity","method":"CapacityWithdrawn","index":2}`), errs)
	require.True(t, ok)
	assert.Equal(t, "capacity.CapacityWithdrawn", e.Name())
	assert.Empty(t, errs)
}
