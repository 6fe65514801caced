package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/trigger"
)

// defaultMaxParallelRuns bounds how many matched workflows execute
// concurrently for a single inbound event.
const defaultMaxParallelRuns = 8

// RunReport is the per-match outcome of handling one inbound event.
// Skipped is set when the run key was already claimed by an earlier
// delivery of the same event.
type RunReport struct {
	WorkflowID   string
	WorkflowName string
	Run          *ledger.Run
	Skipped      bool
	Err          error
}

// Service is the front door of the engine: it matches an inbound event
// against a tenant's workflows and executes every match as an independent
// run. One event can activate several workflows; each gets its own run key
// and its own outcome.
type Service struct {
	matcher     *trigger.Matcher
	coordinator *Coordinator
	logger      *slog.Logger
	maxParallel int
}

// ServiceOption is a functional option for configuring Service.
type ServiceOption func(*Service)

// WithServiceLogger configures structured logging for the service.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxParallelRuns bounds per-event run concurrency.
func WithMaxParallelRuns(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// NewService creates a Service over the matcher and coordinator.
func NewService(matcher *trigger.Matcher, coordinator *Coordinator, opts ...ServiceOption) *Service {
	s := &Service{
		matcher:     matcher,
		coordinator: coordinator,
		logger:      slog.Default(),
		maxParallel: defaultMaxParallelRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleEvent matches the event and executes every activated workflow
// concurrently. Run failures are reported per match, never returned as the
// call's error: one workflow's failure must not suppress another's run.
// The returned error covers matching itself (for example a fetch timeout).
func (s *Service) HandleEvent(ctx context.Context, event gateway.InboundEvent) ([]RunReport, error) {
	matches, err := s.matcher.Match(ctx, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "trigger matching failed",
			"tenant_id", event.TenantID,
			"event_id", event.EventID,
			"error", err,
		)
		return nil, err
	}
	if len(matches) == 0 {
		s.logger.DebugContext(ctx, "no workflows matched",
			"tenant_id", event.TenantID,
			"event_id", event.EventID,
		)
		return nil, nil
	}

	reports := make([]RunReport, len(matches))
	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for i, m := range matches {
		i, m := i, m
		g.Go(func() error {
			run, err := s.coordinator.ExecuteMatch(runCtx, m, event)
			reports[i] = RunReport{
				WorkflowID:   m.Workflow.ID.String(),
				WorkflowName: m.Workflow.Name,
				Run:          run,
				Skipped:      err == nil && run == nil,
				Err:          err,
			}
			// Outcomes stay in the report; returning the error here would
			// cancel sibling runs.
			return nil
		})
	}
	g.Wait()

	return reports, nil
}
