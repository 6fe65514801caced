package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/automationservice/flowengine/internal/action"
	"github.com/automationservice/flowengine/internal/condition"
	"github.com/automationservice/flowengine/internal/engine"
	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/trigger"
	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

var (
	serveAddr   string
	serveTenant string
)

var serveCmd = &cobra.Command{
	Use:   "serve FILE...",
	Short: "Serve the engine over HTTP",
	Long: `Run the engine against the configured store and ledger backends,
publishing the given workflow files and accepting inbound message events
over HTTP.

POST /v1/events delivers one inbound message:

  {"contact_whatsapp_id": "wa-123", "text": "I need support", "event_id": "evt-1"}

The response lists every matched workflow with its run outcome. Terminal
runs are evicted from the ledger after the configured retention window.

Examples:
  flowengine serve examples/workflows/*.yaml --config examples/config.yaml
  flowengine serve support.yaml --addr :9090 --tenant acme`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8081", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveTenant, "tenant", "", "Tenant ID to publish under (generated when omitted)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	tenantID := types.ID(serveTenant)
	if tenantID.IsZero() {
		tenantID = types.NewID()
	}

	st, storeCloser, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser.Close()
	}

	led, ledgerCloser, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	if ledgerCloser != nil {
		defer ledgerCloser.Close()
	}

	registry := workflow.NewRegistry()
	for _, path := range args {
		w, err := workflow.ParseYAMLFile(tenantID, path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if _, err := registry.Publish(w); err != nil {
			return fmt.Errorf("failed to publish %s: %w", path, err)
		}
		if err := st.SaveWorkflow(ctx, w); err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		logger.Info("workflow published",
			"workflow_id", w.ID,
			"workflow_name", w.Name,
			"version", w.Version,
		)
	}

	burst := int(cfg.Gateway.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	gw := gateway.NewHTTPGateway(cfg.Gateway.BaseURL,
		gateway.WithAPIKey(cfg.Gateway.APIKey),
		gateway.WithRateLimit(cfg.Gateway.RatePerSecond, burst),
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
		gateway.WithLogger(logger),
	)

	matcher := trigger.NewMatcher(st,
		trigger.WithTimeout(cfg.Engine.MatchTimeout),
		trigger.WithLogger(logger),
	)
	coordinatorOpts := []engine.CoordinatorOption{
		engine.WithLogger(logger),
		engine.WithRunTimeout(cfg.Engine.RunTimeout),
		engine.WithActiveChecker(registry),
		engine.WithImplicitDefaultArm(cfg.Engine.ImplicitDefaultArm),
		engine.WithDefaultRetryPolicy(retryPolicyFromConfig(cfg.Engine.Retry)),
	}
	if cfg.Tracing.Enabled {
		coordinatorOpts = append(coordinatorOpts, engine.WithTracer(otel.Tracer("flowengine")))
	}
	coordinator := engine.NewCoordinator(
		condition.NewEvaluator(),
		action.NewExecutor(gw, st, action.WithLogger(logger)),
		led,
		st,
		coordinatorOpts...,
	)
	service := engine.NewService(matcher, coordinator,
		engine.WithServiceLogger(logger),
		engine.WithMaxParallelRuns(cfg.Engine.MaxParallelRuns),
	)

	if cfg.Ledger.Retention > 0 {
		go evictLoop(ctx, led, cfg.Ledger.Retention, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", handleEvent(service, tenantID, logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("engine serving",
		"addr", serveAddr,
		"tenant_id", tenantID,
		"store_driver", cfg.Store.Driver,
		"ledger_driver", cfg.Ledger.Driver,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// eventRequest is one inbound message delivered over the webhook.
type eventRequest struct {
	TenantID          string `json:"tenant_id,omitempty"`
	ContactWhatsappID string `json:"contact_whatsapp_id"`
	Text              string `json:"text"`
	EventID           string `json:"event_id,omitempty"`
}

// runResult is the per-matched-workflow outcome in the webhook response.
type runResult struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	Status       string `json:"status"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

func handleEvent(service *engine.Service, defaultTenant types.ID, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		if req.ContactWhatsappID == "" {
			http.Error(w, "contact_whatsapp_id is required", http.StatusBadRequest)
			return
		}

		tenantID := types.ID(req.TenantID)
		if tenantID.IsZero() {
			tenantID = defaultTenant
		}
		eventID := types.ID(req.EventID)
		if eventID.IsZero() {
			eventID = types.NewID()
		}

		event := gateway.InboundEvent{
			TenantID:          tenantID,
			ContactWhatsappID: req.ContactWhatsappID,
			Text:              req.Text,
			ReceivedAt:        time.Now(),
			EventID:           eventID,
		}

		reports, err := service.HandleEvent(r.Context(), event)
		if err != nil {
			logger.ErrorContext(r.Context(), "event handling failed",
				"event_id", eventID,
				"error", err,
			)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		results := make([]runResult, 0, len(reports))
		for _, report := range reports {
			result := runResult{
				WorkflowID:   report.WorkflowID,
				WorkflowName: report.WorkflowName,
				Skipped:      report.Skipped,
			}
			switch {
			case report.Skipped:
				result.Status = "SKIPPED"
			case report.Run != nil:
				result.Status = string(report.Run.Status)
				result.Error = report.Run.LastError
			default:
				result.Status = string(ledger.RunStatusFailed)
			}
			if report.Err != nil {
				result.Error = report.Err.Error()
			}
			results = append(results, result)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"event_id": eventID,
			"runs":     results,
		})
	}
}

// evictLoop ages terminal runs out of the ledger on a fixed cadence.
func evictLoop(ctx context.Context, led ledger.Ledger, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := led.Evict(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.ErrorContext(ctx, "ledger eviction failed", "error", err)
				continue
			}
			if evicted > 0 {
				logger.InfoContext(ctx, "evicted terminal runs", "count", evicted)
			}
		}
	}
}
