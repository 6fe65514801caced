package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "constant stays flat",
			policy:  RetryPolicy{BackoffStrategy: BackoffConstant, InitialDelay: 100 * time.Millisecond},
			attempt: 3,
			want:    100 * time.Millisecond,
		},
		{
			name:    "linear grows by initial delay",
			policy:  RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: 100 * time.Millisecond},
			attempt: 2,
			want:    300 * time.Millisecond,
		},
		{
			name:    "exponential doubles",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2.0},
			attempt: 2,
			want:    400 * time.Millisecond,
		},
		{
			name:    "exponential caps at max delay",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 1 * time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0},
			attempt: 5,
			want:    3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.CalculateDelay(tt.attempt))
		})
	}
}

func TestEdgeGuard_Matches(t *testing.T) {
	assert.True(t, GuardPass.Matches(true))
	assert.False(t, GuardPass.Matches(false))

	assert.True(t, GuardFail.Matches(false))
	assert.False(t, GuardFail.Matches(true))

	// Default matches either outcome.
	assert.True(t, GuardDefault.Matches(true))
	assert.True(t, GuardDefault.Matches(false))

	// An unguarded edge behaves like pass.
	assert.True(t, EdgeGuard("").Matches(true))
	assert.False(t, EdgeGuard("").Matches(false))
}

func TestNodeType_IsAction(t *testing.T) {
	assert.True(t, NodeTypeMessage.IsAction())
	assert.True(t, NodeTypeTag.IsAction())
	assert.False(t, NodeTypeTrigger.IsAction())
	assert.False(t, NodeTypeCondition.IsAction())
}
