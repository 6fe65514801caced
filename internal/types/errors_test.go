package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapRetryableError(GATEWAY_UNAVAILABLE, "gateway send failed", cause)

	assert.Contains(t, err.Error(), "GATEWAY_UNAVAILABLE")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.True(t, engineErr.Retryable)
}

func TestEngineError_IsMatchesCode(t *testing.T) {
	err := NewError(WORKFLOW_CYCLE, "cycle: a -> b -> a")
	target := NewError(WORKFLOW_CYCLE, "different message")

	assert.True(t, errors.Is(err, target))
	assert.False(t, errors.Is(err, NewError(WORKFLOW_INVALID, "other code")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "fatal engine error", err: NewError(ACTION_FATAL, "bad config"), want: false},
		{name: "retryable engine error", err: NewRetryableError(TAG_VERSION_CONFLICT, "lost the race"), want: true},
		{
			name: "retryable under plain wrap",
			err:  fmt.Errorf("handling event: %w", NewRetryableError(GATEWAY_UNAVAILABLE, "503")),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, RUN_TIMEOUT, CodeOf(NewError(RUN_TIMEOUT, "over budget")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))

	wrapped := fmt.Errorf("outer: %w", NewError(STORE_QUERY_FAILED, "query failed"))
	assert.Equal(t, STORE_QUERY_FAILED, CodeOf(wrapped))
}
