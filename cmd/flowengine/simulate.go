package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/automationservice/flowengine/internal/action"
	"github.com/automationservice/flowengine/internal/condition"
	"github.com/automationservice/flowengine/internal/config"
	"github.com/automationservice/flowengine/internal/engine"
	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/store"
	"github.com/automationservice/flowengine/internal/trigger"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

var (
	simulateText    string
	simulateContact string
	simulateTags    []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate FILE... --text MESSAGE",
	Short: "Run an inbound message through workflow files",
	Long: `Simulate delivery of one inbound WhatsApp message against the given
workflow files. Everything runs in memory with a capturing gateway, so
no real messages are sent and no database is touched.

The output shows which workflows matched, each run's node visits and
terminal status, the messages that would have been sent, and the
contact's tag set after all runs finished.

Examples:
  flowengine simulate examples/workflows/*.yaml --text "I need support, it is urgent"
  flowengine simulate lead.yaml --text "what is the price? very interested" --tag existing_customer`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateText, "text", "", "Inbound message text (required)")
	simulateCmd.Flags().StringVar(&simulateContact, "contact", "wa-demo-contact", "Contact WhatsApp ID")
	simulateCmd.Flags().StringArrayVar(&simulateTags, "tag", nil, "Initial contact tag (repeatable)")
	_ = simulateCmd.MarkFlagRequired("text")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	tenantID := types.NewID()
	memStore := store.NewMemoryStore()
	memLedger := ledger.NewMemoryLedger()
	registry := workflow.NewRegistry()

	for _, path := range args {
		w, err := workflow.ParseYAMLFile(tenantID, path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if _, err := registry.Publish(w); err != nil {
			return fmt.Errorf("failed to publish %s: %w", path, err)
		}
		memStore.PutWorkflow(w)
	}

	memStore.PutContact(&store.Contact{
		TenantID:   tenantID,
		WhatsappID: simulateContact,
		Name:       "Simulated Contact",
		Tags:       simulateTags,
	})

	fakeGateway := gateway.NewFakeGateway()
	matcher := trigger.NewMatcher(memStore,
		trigger.WithTimeout(cfg.Engine.MatchTimeout),
		trigger.WithLogger(logger),
	)
	coordinator := engine.NewCoordinator(
		condition.NewEvaluator(),
		action.NewExecutor(fakeGateway, memStore, action.WithLogger(logger)),
		memLedger,
		memStore,
		engine.WithLogger(logger),
		engine.WithRunTimeout(cfg.Engine.RunTimeout),
		engine.WithActiveChecker(registry),
		engine.WithImplicitDefaultArm(cfg.Engine.ImplicitDefaultArm),
		engine.WithDefaultRetryPolicy(retryPolicyFromConfig(cfg.Engine.Retry)),
	)
	service := engine.NewService(matcher, coordinator,
		engine.WithServiceLogger(logger),
		engine.WithMaxParallelRuns(cfg.Engine.MaxParallelRuns),
	)

	event := gateway.InboundEvent{
		TenantID:          tenantID,
		ContactWhatsappID: simulateContact,
		Text:              simulateText,
		ReceivedAt:        time.Now(),
		EventID:           types.NewID(),
	}

	reports, err := service.HandleEvent(ctx, event)
	if err != nil {
		return err
	}

	printReports(cmd, reports)
	printSends(cmd, fakeGateway.Sent())
	printContact(cmd, ctx, memStore, tenantID)
	return nil
}

func printReports(cmd *cobra.Command, reports []engine.RunReport) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	if len(reports) == 0 {
		fmt.Fprintln(out, yellow("No workflows matched."))
		return
	}

	fmt.Fprintf(out, "%s\n", bold(fmt.Sprintf("%d workflow(s) matched:", len(reports))))
	for _, r := range reports {
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "  %s %s: %v\n", red("FAILED"), r.WorkflowName, r.Err)
		case r.Skipped:
			fmt.Fprintf(out, "  %s %s (already claimed)\n", yellow("SKIPPED"), r.WorkflowName)
		case r.Run != nil && r.Run.Status == ledger.RunStatusCompleted:
			fmt.Fprintf(out, "  %s %s\n", green("COMPLETED"), r.WorkflowName)
		default:
			status := "UNKNOWN"
			if r.Run != nil {
				status = string(r.Run.Status)
			}
			fmt.Fprintf(out, "  %s %s\n", red(status), r.WorkflowName)
		}
		if r.Run != nil {
			for _, v := range r.Run.Visits {
				line := fmt.Sprintf("    - %s: %s", v.NodeID, v.Outcome)
				if v.Attempts > 1 {
					line += fmt.Sprintf(" (%d attempts)", v.Attempts)
				}
				if v.Error != "" {
					line += " — " + v.Error
				}
				fmt.Fprintln(out, line)
			}
			if r.Run.LastError != "" {
				fmt.Fprintf(out, "    last error: %s\n", r.Run.LastError)
			}
		}
	}
}

func printSends(cmd *cobra.Command, sent []gateway.OutboundMessage) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(out, "\n%s\n", bold(fmt.Sprintf("%d message(s) would be sent:", len(sent))))
	for _, msg := range sent {
		fmt.Fprintf(out, "  -> %s: %q\n", msg.ContactWhatsappID, msg.Body)
	}
}

func printContact(cmd *cobra.Command, ctx context.Context, s store.Store, tenantID types.ID) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()

	contact, err := s.GetContact(ctx, tenantID, simulateContact)
	if err != nil {
		return
	}
	fmt.Fprintf(out, "\n%s %s\n", bold("Contact tags:"), formatTags(contact.Tags))
}

func retryPolicyFromConfig(cfg config.RetryConfig) *workflow.RetryPolicy {
	return &workflow.RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		BackoffStrategy: workflow.BackoffStrategy(cfg.BackoffStrategy),
		InitialDelay:    cfg.InitialDelay,
		MaxDelay:        cfg.MaxDelay,
		Multiplier:      cfg.Multiplier,
	}
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "(none)"
	}
	return strings.Join(tags, ", ")
}
