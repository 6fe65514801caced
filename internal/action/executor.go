// Package action executes side-effecting workflow nodes: outbound message
// sends and contact tag mutations.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/store"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// casAttempts bounds the tag compare-and-set retry loop. Conflicts are
// re-read immediately; the loop only spins while other runs keep winning.
const casAttempts = 5

// Executor applies action node side effects. Message sends carry an
// idempotency key of runKey + nodeID so gateway-side retries of the same
// logical send never double-deliver; tag mutations go through the store's
// optimistic compare-and-set so concurrent runs cannot lose updates.
type Executor struct {
	gateway gateway.Gateway
	store   store.Store
	logger  *slog.Logger
}

// Option is a functional option for configuring Executor.
type Option func(*Executor)

// WithLogger configures structured logging for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor over the gateway and store collaborators.
func NewExecutor(gw gateway.Gateway, s store.Store, opts ...Option) *Executor {
	e := &Executor{
		gateway: gw,
		store:   s,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies one action node. Errors carry the retryable hint the
// coordinator's per-node retry policy consumes: transient gateway and
// persistence failures are retryable, misconfiguration is fatal and aborts
// only the node's branch.
func (e *Executor) Execute(ctx context.Context, node *workflow.Node, key ledger.RunKey, event gateway.InboundEvent) error {
	switch node.Type {
	case workflow.NodeTypeMessage:
		return e.executeMessage(ctx, node, key, event)
	case workflow.NodeTypeTag:
		return e.executeTag(ctx, node, event)
	default:
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("node %q of type %q is not an action node", node.ID, node.Type))
	}
}

// executeMessage submits the outbound send with a deterministic
// idempotency key.
func (e *Executor) executeMessage(ctx context.Context, node *workflow.Node, key ledger.RunKey, event gateway.InboundEvent) error {
	cfg := node.Message
	if cfg == nil {
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("message node %q has no message config", node.ID))
	}
	if !cfg.MessageType.Valid() {
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("message node %q has unsupported message type %q", node.ID, cfg.MessageType))
	}

	msg := gateway.OutboundMessage{
		TenantID:          event.TenantID,
		ContactWhatsappID: event.ContactWhatsappID,
		MessageType:       string(cfg.MessageType),
		Body:              cfg.Text,
		IdempotencyKey:    fmt.Sprintf("%s:%s", key, node.ID),
	}

	if err := e.gateway.Send(ctx, msg); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "outbound message dispatched",
		"node_id", node.ID,
		"contact", event.ContactWhatsappID,
		"idempotency_key", msg.IdempotencyKey,
	)
	return nil
}

// executeTag mutates the contact's tag set through a bounded
// compare-and-set loop: read, mutate, CAS, and on version conflict re-read
// and try again. A mutation that is already in place short-circuits, which
// makes replays of the same node idempotent.
func (e *Executor) executeTag(ctx context.Context, node *workflow.Node, event gateway.InboundEvent) error {
	cfg := node.Tag
	if cfg == nil {
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("tag node %q has no tag config", node.ID))
	}
	if !cfg.Action.Valid() {
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("tag node %q has unsupported action %q", node.ID, cfg.Action))
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		contact, err := e.store.GetContact(ctx, event.TenantID, event.ContactWhatsappID)
		if err != nil {
			return err
		}

		newTags, changed := applyTagAction(contact.Tags, cfg)
		if !changed {
			return nil
		}

		err = e.store.UpdateContactTags(ctx, event.TenantID, event.ContactWhatsappID, contact.Version, newTags)
		if err == nil {
			e.logger.InfoContext(ctx, "contact tags updated",
				"node_id", node.ID,
				"contact", event.ContactWhatsappID,
				"action", cfg.Action,
				"tag", cfg.TagName,
			)
			return nil
		}
		if types.CodeOf(err) != types.TAG_VERSION_CONFLICT {
			return err
		}
		lastErr = err
	}

	return types.WrapRetryableError(types.TAG_VERSION_CONFLICT,
		fmt.Sprintf("tag node %q exhausted %d compare-and-set attempts", node.ID, casAttempts), lastErr)
}

// applyTagAction returns the mutated tag set and whether anything changed.
func applyTagAction(tags []string, cfg *workflow.TagConfig) ([]string, bool) {
	switch cfg.Action {
	case workflow.TagActionAdd:
		for _, t := range tags {
			if t == cfg.TagName {
				return tags, false
			}
		}
		return append(append([]string(nil), tags...), cfg.TagName), true
	case workflow.TagActionRemove:
		out := make([]string, 0, len(tags))
		removed := false
		for _, t := range tags {
			if t == cfg.TagName {
				removed = true
				continue
			}
			out = append(out, t)
		}
		return out, removed
	default:
		return tags, false
	}
}
