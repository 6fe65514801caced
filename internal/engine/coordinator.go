// Package engine walks workflow graphs for matched triggers, sequencing
// condition branches and action side effects under the run state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/automationservice/flowengine/internal/action"
	"github.com/automationservice/flowengine/internal/condition"
	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/store"
	"github.com/automationservice/flowengine/internal/trigger"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// ActiveChecker reports whether a workflow version still accepts and
// continues runs. The coordinator consults it at every node boundary; a
// deactivated version fails the run with WORKFLOW_DEACTIVATED.
type ActiveChecker interface {
	IsActive(workflowID types.ID, version int) bool
}

// Coordinator executes one run per matched trigger: it claims the run key,
// walks the graph from the entry nodes, evaluates condition arms
// first-match-wins, applies actions with bounded per-node retries, and
// records every step in the run ledger.
type Coordinator struct {
	evaluator *condition.Evaluator
	actions   *action.Executor
	ledger    ledger.Ledger
	store     store.Store
	active    ActiveChecker
	logger    *slog.Logger
	tracer    trace.Tracer

	runTimeout         time.Duration
	defaultRetry       *workflow.RetryPolicy
	implicitDefaultArm bool
}

// CoordinatorOption is a functional option for configuring Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger configures structured logging for the coordinator.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTracer configures OpenTelemetry tracing for runs and node visits.
func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithRunTimeout sets the whole-run wall-clock budget. Exceeding it fails
// the run with RUN_TIMEOUT regardless of per-node retry budgets.
func WithRunTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

// WithDefaultRetryPolicy sets the retry policy applied to action nodes
// that do not declare their own.
func WithDefaultRetryPolicy(policy *workflow.RetryPolicy) CoordinatorOption {
	return func(c *Coordinator) {
		if policy != nil {
			c.defaultRetry = policy
		}
	}
}

// WithActiveChecker wires mid-run deactivation checks.
func WithActiveChecker(checker ActiveChecker) CoordinatorOption {
	return func(c *Coordinator) {
		c.active = checker
	}
}

// WithImplicitDefaultArm makes the last declared edge of a condition node
// act as a default arm when no guard matches. Off by default: a default
// arm normally has to be declared explicitly.
func WithImplicitDefaultArm(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.implicitDefaultArm = enabled
	}
}

// NewCoordinator creates a Coordinator over its collaborators.
// Defaults: 30s run timeout, exponential default retry policy,
// slog.Default(), no tracer, no deactivation checks.
func NewCoordinator(evaluator *condition.Evaluator, actions *action.Executor, l ledger.Ledger, s store.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		evaluator:    evaluator,
		actions:      actions,
		ledger:       l,
		store:        s,
		logger:       slog.Default(),
		runTimeout:   30 * time.Second,
		defaultRetry: workflow.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// branchAbortError marks a fatal error that aborts only its branch. The
// run can still complete through sibling branches; it fails only when no
// branch survives.
type branchAbortError struct {
	cause error
}

func (e *branchAbortError) Error() string {
	return fmt.Sprintf("branch aborted: %v", e.cause)
}

func (e *branchAbortError) Unwrap() error {
	return e.cause
}

// ExecuteMatch runs one matched workflow against the event. It returns the
// terminal ledger entry, or (nil, nil) when the claim was lost — the event
// was already, or is being, handled.
func (c *Coordinator) ExecuteMatch(ctx context.Context, m trigger.Match, event gateway.InboundEvent) (*ledger.Run, error) {
	key := ledger.RunKey{
		WorkflowID:      m.Workflow.ID,
		WorkflowVersion: m.Workflow.Version,
		ContactID:       event.ContactWhatsappID,
		EventID:         event.EventID,
	}

	claimed, err := c.ledger.Claim(ctx, key)
	if err != nil {
		return nil, err
	}
	if !claimed {
		c.logger.InfoContext(ctx, "run already claimed, skipping",
			"run_key", key.String(),
		)
		return nil, nil
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "engine.run",
			trace.WithAttributes(
				attribute.String("workflow.id", m.Workflow.ID.String()),
				attribute.String("workflow.name", m.Workflow.Name),
				attribute.Int("workflow.version", m.Workflow.Version),
				attribute.String("event.id", event.EventID.String()),
			),
		)
		defer span.End()
	}

	if err := c.ledger.MarkRunning(ctx, key); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "run started",
		"run_key", key.String(),
		"workflow_name", m.Workflow.Name,
		"entry_nodes", m.EntryNodeIDs,
	)

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	// The contact snapshot feeds condition evaluation; tag actions re-read
	// under CAS. A contact unknown to the store evaluates against nil.
	contact, err := c.store.GetContact(runCtx, event.TenantID, event.ContactWhatsappID)
	if err != nil && types.CodeOf(err) != types.CONTACT_NOT_FOUND {
		c.completeRun(ctx, key, ledger.RunStatusFailed, err, span)
		return c.ledger.Get(ctx, key)
	}

	run := &runContext{
		coordinator: c,
		workflow:    m.Workflow,
		key:         key,
		event:       event,
		contact:     contact,
	}

	walkErr := run.walkAll(runCtx, m.EntryNodeIDs)

	switch {
	case walkErr == nil:
		c.completeRun(ctx, key, ledger.RunStatusCompleted, nil, span)
	default:
		c.completeRun(ctx, key, ledger.RunStatusFailed, walkErr, span)
	}

	return c.ledger.Get(ctx, key)
}

// completeRun persists the terminal status. The parent ctx (not the run
// timeout ctx) is used so a timed-out run can still record its outcome.
func (c *Coordinator) completeRun(ctx context.Context, key ledger.RunKey, status ledger.RunStatus, cause error, span trace.Span) {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	if err := c.ledger.Complete(ctx, key, status, lastError); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist run outcome",
			"run_key", key.String(),
			"error", err,
		)
	}

	if span != nil {
		if cause != nil {
			span.SetStatus(codes.Error, lastError)
			span.RecordError(cause)
		} else {
			span.SetStatus(codes.Ok, "run completed")
		}
	}

	if cause != nil {
		c.logger.WarnContext(ctx, "run failed",
			"run_key", key.String(),
			"status", status,
			"error", lastError,
		)
	} else {
		c.logger.InfoContext(ctx, "run completed",
			"run_key", key.String(),
		)
	}
}

// runContext carries the per-run immutable inputs through the graph walk.
type runContext struct {
	coordinator *Coordinator
	workflow    *workflow.Workflow
	key         ledger.RunKey
	event       gateway.InboundEvent
	contact     *store.Contact
}

// walkAll walks every matched entry node as an independent branch. Sibling
// branches run concurrently; the run fails only when a branch hits a
// run-fatal error, or when every branch aborted and none completed.
func (r *runContext) walkAll(ctx context.Context, entryIDs []string) error {
	errs := r.walkConcurrently(ctx, entryIDs)
	return reduceBranchErrors(errs)
}

// walkConcurrently executes one walk per target node in parallel and
// returns their outcomes. A branch abort must not cancel siblings, so the
// collection is by hand rather than through a cancelling group.
func (r *runContext) walkConcurrently(ctx context.Context, nodeIDs []string) []error {
	if len(nodeIDs) == 1 {
		return []error{r.walkNode(ctx, nodeIDs[0])}
	}

	errs := make([]error, len(nodeIDs))
	var wg sync.WaitGroup
	for i, id := range nodeIDs {
		wg.Add(1)
		go func(idx int, nodeID string) {
			defer wg.Done()
			errs[idx] = r.walkNode(ctx, nodeID)
		}(i, id)
	}
	wg.Wait()
	return errs
}

// reduceBranchErrors folds sibling branch outcomes: a run-fatal error wins,
// all-aborted propagates an abort, and any surviving branch clears the rest.
func reduceBranchErrors(errs []error) error {
	var firstAbort error
	completed := false
	for _, err := range errs {
		if err == nil {
			completed = true
			continue
		}
		var abort *branchAbortError
		if errors.As(err, &abort) {
			if firstAbort == nil {
				firstAbort = err
			}
			continue
		}
		return err
	}
	if !completed && firstAbort != nil {
		return firstAbort
	}
	return nil
}

// walkNode executes one node and continues along its outgoing edges. Node
// boundaries check the run budget and workflow deactivation before any
// work happens.
func (r *runContext) walkNode(ctx context.Context, nodeID string) error {
	if err := r.checkBoundary(ctx); err != nil {
		return err
	}

	node := r.workflow.GetNode(nodeID)
	if node == nil {
		// Validation guarantees this never happens for published versions.
		return types.NewError(types.WORKFLOW_INVALID,
			fmt.Sprintf("node %q not found in workflow version", nodeID))
	}

	c := r.coordinator
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "engine.node",
			trace.WithAttributes(
				attribute.String("node.id", node.ID),
				attribute.String("node.type", string(node.Type)),
			),
		)
		defer span.End()
	}

	switch node.Type {
	case workflow.NodeTypeTrigger:
		return r.walkTrigger(ctx, node)
	case workflow.NodeTypeCondition:
		return r.walkCondition(ctx, node)
	case workflow.NodeTypeMessage, workflow.NodeTypeTag:
		return r.walkAction(ctx, node)
	default:
		err := types.NewError(types.WORKFLOW_INVALID,
			fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type))
		r.recordVisit(ctx, node.ID, ledger.VisitFailed, 1, err)
		return &branchAbortError{cause: err}
	}
}

// walkTrigger fans out: ALL outgoing edges activate as sibling branches.
func (r *runContext) walkTrigger(ctx context.Context, node *workflow.Node) error {
	r.recordVisit(ctx, node.ID, ledger.VisitCompleted, 1, nil)

	edges := r.workflow.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return nil
	}

	targets := make([]string, len(edges))
	for i, e := range edges {
		targets[i] = e.To
	}
	return reduceBranchErrors(r.walkConcurrently(ctx, targets))
}

// walkCondition evaluates the node's predicate once, then takes the first
// outgoing edge whose guard matches the outcome (declaration order,
// first-match-wins). No matching arm is a legal no-op dead end.
func (r *runContext) walkCondition(ctx context.Context, node *workflow.Node) error {
	outcome, err := r.coordinator.evaluator.Evaluate(node.Condition, r.event, r.contact)
	if err != nil {
		// Misconfigured workflow: non-retryable, fails the whole run.
		r.recordVisit(ctx, node.ID, ledger.VisitFailed, 1, err)
		return err
	}

	r.recordVisit(ctx, node.ID, ledger.VisitCompleted, 1, nil)

	edges := r.workflow.OutgoingEdges(node.ID)
	for _, edge := range edges {
		if edge.Guard.Matches(outcome) {
			return r.walkNode(ctx, edge.To)
		}
	}

	if r.coordinator.implicitDefaultArm && len(edges) > 0 {
		return r.walkNode(ctx, edges[len(edges)-1].To)
	}

	// No arm matched and no default declared: the branch ends here.
	r.coordinator.logger.DebugContext(ctx, "condition matched no arm",
		"run_key", r.key.String(),
		"node_id", node.ID,
		"outcome", outcome,
	)
	return nil
}

// walkAction applies the node's side effect under its retry policy, then
// continues along its outgoing edges.
func (r *runContext) walkAction(ctx context.Context, node *workflow.Node) error {
	policy := node.RetryPolicy
	if policy == nil {
		policy = r.coordinator.defaultRetry
	}

	attempts, err := r.executeWithRetry(ctx, node, policy)
	if err != nil {
		r.recordVisit(ctx, node.ID, ledger.VisitFailed, attempts, err)

		// Budget and deactivation failures are run-fatal, never branch-local.
		switch types.CodeOf(err) {
		case types.RUN_TIMEOUT, types.WORKFLOW_DEACTIVATED:
			return err
		}

		if types.IsRetryable(err) {
			// Retry budget exhausted on a transient failure: the run fails
			// so the event can be diagnosed and replayed manually.
			return types.WrapRetryableError(types.RETRY_BUDGET_EXHAUSTED,
				fmt.Sprintf("node %q exhausted its retry budget", node.ID), err)
		}
		// Fatal misconfiguration aborts only this branch.
		return &branchAbortError{cause: err}
	}

	r.recordVisit(ctx, node.ID, ledger.VisitCompleted, attempts, nil)

	for _, edge := range r.workflow.OutgoingEdges(node.ID) {
		if err := r.walkNode(ctx, edge.To); err != nil {
			return err
		}
	}
	return nil
}

// executeWithRetry retries retryable action failures with the policy's
// backoff, bounded by MaxRetries and the run budget. It returns the number
// of attempts made.
func (r *runContext) executeWithRetry(ctx context.Context, node *workflow.Node, policy *workflow.RetryPolicy) (int, error) {
	c := r.coordinator
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := r.checkBoundary(ctx); err != nil {
			return attempt + 1, err
		}

		lastErr = c.actions.Execute(ctx, node, r.key, r.event)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, r.boundaryError(ctx)
		}
		if !types.IsRetryable(lastErr) {
			return attempt + 1, lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.CalculateDelay(attempt)
		c.logger.InfoContext(ctx, "retrying action node",
			"run_key", r.key.String(),
			"node_id", node.ID,
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return attempt + 1, r.boundaryError(ctx)
		case <-time.After(delay):
		}
	}

	return policy.MaxRetries + 1, lastErr
}

// checkBoundary enforces the run budget and deactivation at node
// boundaries, never mid-node.
func (r *runContext) checkBoundary(ctx context.Context) error {
	if ctx.Err() != nil {
		return r.boundaryError(ctx)
	}
	c := r.coordinator
	if c.active != nil && !c.active.IsActive(r.workflow.ID, r.workflow.Version) {
		return types.NewError(types.WORKFLOW_DEACTIVATED,
			fmt.Sprintf("workflow %s version %d was deactivated mid-run", r.workflow.ID, r.workflow.Version))
	}
	return nil
}

func (r *runContext) boundaryError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.WrapError(types.RUN_TIMEOUT,
			fmt.Sprintf("run exceeded its %v budget", r.coordinator.runTimeout), ctx.Err())
	}
	return ctx.Err()
}

// recordVisit appends a node visit; ledger write failures are logged, not
// fatal to the run.
func (r *runContext) recordVisit(ctx context.Context, nodeID string, outcome ledger.VisitOutcome, attempts int, cause error) {
	visit := ledger.Visit{
		NodeID:   nodeID,
		Outcome:  outcome,
		Attempts: attempts,
		At:       time.Now(),
	}
	if cause != nil {
		visit.Error = cause.Error()
	}

	if err := r.coordinator.ledger.RecordVisit(ctx, r.key, visit); err != nil {
		r.coordinator.logger.ErrorContext(ctx, "failed to record node visit",
			"run_key", r.key.String(),
			"node_id", nodeID,
			"error", err,
		)
	}
}
