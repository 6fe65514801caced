package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automationservice/flowengine/internal/types"
)

func testMessage() OutboundMessage {
	return OutboundMessage{
		TenantID:          types.NewID(),
		ContactWhatsappID: "wa-123",
		MessageType:       "text",
		Body:              "hello",
		IdempotencyKey:    "wf-1:v1:wa-123:evt-1:message_1",
	}
}

func TestHTTPGateway_Send(t *testing.T) {
	var gotKey string
	var gotBody OutboundMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL)
	msg := testMessage()
	require.NoError(t, g.Send(context.Background(), msg))

	assert.Equal(t, msg.IdempotencyKey, gotKey)
	assert.Equal(t, msg.Body, gotBody.Body)
}

func TestHTTPGateway_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{name: "server error is retryable", status: http.StatusBadGateway, wantCode: types.GATEWAY_UNAVAILABLE, retryable: true},
		{name: "client error is fatal", status: http.StatusUnprocessableEntity, wantCode: types.ACTION_FATAL, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewHTTPGateway(server.URL).Send(context.Background(), testMessage())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestHTTPGateway_ConnectionRefused(t *testing.T) {
	// A closed server yields a transport error, which is retryable.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	err := NewHTTPGateway(server.URL).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, types.GATEWAY_UNAVAILABLE, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}
