package gateway

import (
	"context"
	"sync"
)

// FakeGateway is an in-memory Gateway that records sends and de-duplicates
// on idempotency key, mimicking provider-side behavior. Tests and the
// simulate command use it; SendFunc injects failures.
type FakeGateway struct {
	mu    sync.Mutex
	sent  []OutboundMessage
	seen  map[string]bool
	calls int

	// SendFunc, when set, is consulted before recording. Returning an error
	// simulates a gateway failure for that attempt.
	SendFunc func(ctx context.Context, msg OutboundMessage) error
}

// NewFakeGateway creates an empty FakeGateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{seen: make(map[string]bool)}
}

// Send records the message unless its idempotency key was already seen.
func (g *FakeGateway) Send(ctx context.Context, msg OutboundMessage) error {
	g.mu.Lock()
	g.calls++
	fn := g.SendFunc
	g.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[msg.IdempotencyKey] {
		return nil
	}
	g.seen[msg.IdempotencyKey] = true
	g.sent = append(g.sent, msg)
	return nil
}

// Sent returns a copy of the delivered (de-duplicated) messages.
func (g *FakeGateway) Sent() []OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]OutboundMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

// Calls returns the total number of Send attempts, including failed and
// de-duplicated ones.
func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
