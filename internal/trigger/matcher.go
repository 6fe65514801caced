// Package trigger decides which workflows an inbound event activates.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/store"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// Match is one activated workflow with the entry nodes that fired.
type Match struct {
	Workflow     *workflow.Workflow
	EntryNodeIDs []string
}

// Matcher evaluates inbound events against a tenant's active workflows.
// Matching is pure and read-only; the only external call is the workflow
// fetch, which is bounded by a short timeout so matching can never suspend
// indefinitely.
type Matcher struct {
	store   store.Store
	timeout time.Duration
	logger  *slog.Logger
}

// Option is a functional option for configuring Matcher.
type Option func(*Matcher)

// WithTimeout bounds the workflow fetch. Exceeding it is a partial-match
// failure surfaced as TRIGGER_MATCH_TIMEOUT.
func WithTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger configures structured logging for the matcher.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// NewMatcher creates a Matcher over the given store.
// Defaults: 2s fetch timeout, slog.Default().
func NewMatcher(s store.Store, opts ...Option) *Matcher {
	m := &Matcher{
		store:   s,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the workflows activated by the event, in workflow creation
// order for deterministic behavior. Each match proceeds as an independent
// run. A fetch timeout is returned as a TRIGGER_MATCH_TIMEOUT error; the
// caller marks the would-be runs FAILED and does not retry automatically.
func (m *Matcher) Match(ctx context.Context, event gateway.InboundEvent) ([]Match, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var matches []Match
	for _, kind := range []workflow.TriggerKind{workflow.TriggerMessageReceived, workflow.TriggerKeyword} {
		workflows, err := m.store.ActiveWorkflows(fetchCtx, event.TenantID, kind)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, types.WrapRetryableError(types.TRIGGER_MATCH_TIMEOUT,
					"workflow fetch timed out during trigger matching", err)
			}
			return nil, err
		}

		for _, w := range workflows {
			entryIDs := m.matchEntryNodes(w, event)
			if len(entryIDs) == 0 {
				continue
			}
			matches = append(matches, Match{Workflow: w, EntryNodeIDs: entryIDs})
			m.logger.DebugContext(ctx, "trigger matched",
				"workflow_id", w.ID,
				"workflow_name", w.Name,
				"entry_nodes", entryIDs,
				"event_id", event.EventID,
			)
		}
	}

	// The store orders within one trigger kind only; re-sort across kinds so
	// callers always see workflows in creation order.
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].Workflow, matches[j].Workflow
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matches, nil
}

// matchEntryNodes returns the workflow's entry nodes activated by the
// event, in entry-point order.
func (m *Matcher) matchEntryNodes(w *workflow.Workflow, event gateway.InboundEvent) []string {
	var entryIDs []string
	for _, id := range w.EntryPoints {
		node := w.GetNode(id)
		if node == nil || node.Trigger == nil {
			continue
		}
		if m.triggerFires(node.Trigger, event) {
			entryIDs = append(entryIDs, id)
		}
	}
	return entryIDs
}

// triggerFires applies the trigger node's own matching rule.
func (m *Matcher) triggerFires(cfg *workflow.TriggerConfig, event gateway.InboundEvent) bool {
	switch cfg.TriggerType {
	case workflow.TriggerMessageReceived:
		// Any inbound message for the tenant fires.
		return true
	case workflow.TriggerKeyword:
		// An empty keyword list is a misconfiguration and matches nothing.
		if len(cfg.Keywords) == 0 {
			return false
		}
		text := strings.ToLower(event.Text)
		for _, keyword := range cfg.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(keyword)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
