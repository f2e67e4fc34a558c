package bitcoin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/metrics"
)

func TestHandleTransientIncrementsUntilRetryLimit(t *testing.T) {
	p := &ConfirmedBlockPoller{log: zap.NewNop(), metrics: metrics.NewRegistry()}
	err := chainerr.Transientf(chainerr.CodeRPCError, "boom", nil)

	retryCount := 0
	var handleErr error
	for i := 0; i < maxRetryCount-1; i++ {
		retryCount, handleErr = p.handleTransient(err, retryCount)
		require.NoError(t, handleErr)
	}
	assert.Equal(t, maxRetryCount-1, retryCount)

	_, handleErr = p.handleTransient(err, retryCount)
	require.Error(t, handleErr)
	assert.False(t, chainerr.IsTransient(handleErr))
}

func TestHandleTransientPassesThroughNonTransientErrors(t *testing.T) {
	p := &ConfirmedBlockPoller{log: zap.NewNop(), metrics: metrics.NewRegistry()}
	fatal := errors.New("not a chain error at all")

	_, err := p.handleTransient(fatal, 0)
	assert.Equal(t, fatal, err)
}

func TestForgetStaleDropsEntriesPastMaxAge(t *testing.T) {
	p := &PendingPoller{seen: map[string]int{
		"fresh": 98,
		"stale": 10,
	}, tick: 100}

	p.forgetStale()

	_, freshStillThere := p.seen["fresh"]
	_, staleStillThere := p.seen["stale"]
	assert.True(t, freshStillThere)
	assert.False(t, staleStillThere)
}
