// Package condition evaluates branch predicates over an inbound event and
// a contact snapshot.
package condition

import (
	"fmt"
	"strings"

	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/store"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// PredicateFunc evaluates one predicate kind against the event and the
// already-fetched contact snapshot. Implementations must be pure: no side
// effects and no I/O, so the coordinator can re-evaluate safely during
// branch retries.
type PredicateFunc func(operand string, event gateway.InboundEvent, contact *store.Contact) (bool, error)

// Evaluator evaluates condition node predicates. Predicate kinds form a
// closed set; new kinds are added via Register without touching the
// coordinator.
type Evaluator struct {
	predicates map[string]PredicateFunc
}

// NewEvaluator creates an Evaluator with the default predicate kinds
// registered.
//
// Built-in kinds:
//   - contains: case-insensitive substring match of the operand in the
//     event text
//   - has_tag: the contact snapshot carries the operand as a tag
func NewEvaluator() *Evaluator {
	e := &Evaluator{predicates: make(map[string]PredicateFunc)}

	e.Register("contains", func(operand string, event gateway.InboundEvent, _ *store.Contact) (bool, error) {
		return strings.Contains(strings.ToLower(event.Text), strings.ToLower(operand)), nil
	})

	e.Register("has_tag", func(operand string, _ gateway.InboundEvent, contact *store.Contact) (bool, error) {
		if contact == nil {
			return false, nil
		}
		return contact.HasTag(operand), nil
	})

	return e
}

// Register adds a predicate kind. Registering an existing kind replaces it.
func (e *Evaluator) Register(kind string, fn PredicateFunc) {
	e.predicates[kind] = fn
}

// Evaluate runs the condition node's predicate. An unknown predicate kind
// returns a non-retryable PREDICATE_UNSUPPORTED error: the workflow is
// misconfigured and the run must fail rather than retry.
func (e *Evaluator) Evaluate(cfg *workflow.ConditionConfig, event gateway.InboundEvent, contact *store.Contact) (bool, error) {
	if cfg == nil {
		return false, types.NewError(types.PREDICATE_UNSUPPORTED, "condition config is nil")
	}

	fn, ok := e.predicates[cfg.Predicate]
	if !ok {
		return false, types.NewError(types.PREDICATE_UNSUPPORTED,
			fmt.Sprintf("unknown predicate kind %q", cfg.Predicate))
	}

	return fn(cfg.Operand, event, contact)
}
