package services

import (
	"context"
	"fmt"

	"interview-system/status"
	"interview-system/utils"
)

// CallCounter is the slice of the voice-provider client the oracle needs.
type CallCounter interface {
	CountOngoingCalls(ctx context.Context) (int, error)
}

// CapacityOracle answers "how many sessions are running right now" with a
// fresh provider read on every call. Stateless on purpose: a local counter
// would drift from the provider's view.
type CapacityOracle struct {
	provider CallCounter
	breaker  *utils.CircuitBreaker
}

func NewCapacityOracle(provider CallCounter) *CapacityOracle {
	return &CapacityOracle{
		provider: provider,
		breaker:  utils.NewCircuitBreaker("retell-concurrency"),
	}
}

// CurrentActiveSessions returns the ongoing-call count. Any provider failure
// is fatal for the calling admission attempt and wraps ErrCapacityQuery.
func (o *CapacityOracle) CurrentActiveSessions(ctx context.Context) (int, error) {
	result, err := o.breaker.Execute(ctx, func() (interface{}, error) {
		return o.provider.CountOngoingCalls(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrCapacityQuery, err)
	}

	count, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected result %v", status.ErrCapacityQuery, result)
	}
	return count, nil
}
