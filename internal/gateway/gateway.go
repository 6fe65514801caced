// Package gateway defines the messaging gateway collaborator: the source of
// inbound WhatsApp events and the sink for outbound sends.
package gateway

import (
	"context"
	"time"

	"github.com/automationservice/flowengine/internal/types"
)

// InboundEvent is one inbound WhatsApp message delivered by the gateway.
// EventID is the idempotency anchor for run key construction; re-delivery
// of the same EventID must not duplicate side effects.
type InboundEvent struct {
	TenantID          types.ID  `json:"tenant_id"`
	ContactWhatsappID string    `json:"contact_whatsapp_id"`
	Text              string    `json:"text"`
	ReceivedAt        time.Time `json:"received_at"`
	EventID           types.ID  `json:"event_id"`
}

// OutboundMessage is one outbound send request. The gateway is expected to
// de-duplicate on IdempotencyKey, so retries of the same logical send never
// double-deliver.
type OutboundMessage struct {
	TenantID          types.ID `json:"tenant_id"`
	ContactWhatsappID string   `json:"contact_whatsapp_id"`
	MessageType       string   `json:"message_type"`
	Body              string   `json:"body"`
	IdempotencyKey    string   `json:"idempotency_key"`
}

// Gateway submits outbound sends to the messaging provider.
//
// Send errors are classified through the engine error taxonomy: transient
// failures (timeouts, 5xx) are retryable EngineErrors with code
// GATEWAY_UNAVAILABLE; anything else is treated as fatal by the action
// executor.
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) error
}
