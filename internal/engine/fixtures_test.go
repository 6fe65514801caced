package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automationservice/flowengine/internal/gateway"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/workflow"
)

// loadFixture publishes one of the shipped example workflow files.
func loadFixture(t *testing.T, env *testEnv, name string) *workflow.Workflow {
	t.Helper()
	path := filepath.Join("..", "..", "examples", "workflows", name)
	w, err := workflow.ParseYAMLFile(env.tenantID, path)
	require.NoError(t, err)
	env.publish(t, w)
	return w
}

func sentBodies(env *testEnv) []string {
	sent := env.gateway.Sent()
	bodies := make([]string, 0, len(sent))
	for _, msg := range sent {
		bodies = append(bodies, msg.Body)
	}
	return bodies
}

func TestService_FixtureUrgentSupport(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	loadFixture(t, env, "welcome.yaml")
	loadFixture(t, env, "customer_support.yaml")
	loadFixture(t, env, "lead_qualification.yaml")
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("I need support, it is urgent"))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, report := range reports {
		require.NoError(t, report.Err)
		assert.Equal(t, ledger.RunStatusCompleted, report.Run.Status)
	}

	assert.ElementsMatch(t, []string{
		"👋 Welcome to AutomationService! Thanks for reaching out. How can we help you today?",
		"🚨 We understand this is urgent. Our support team will respond within 1 hour.",
	}, sentBodies(env))
}

func TestService_FixtureHotLead(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	loadFixture(t, env, "welcome.yaml")
	loadFixture(t, env, "customer_support.yaml")
	loadFixture(t, env, "lead_qualification.yaml")
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("what is the price? I am very interested"))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, report := range reports {
		require.NoError(t, report.Err)
		assert.Equal(t, ledger.RunStatusCompleted, report.Run.Status)
	}

	assert.ElementsMatch(t, []string{
		"👋 Welcome to AutomationService! Thanks for reaching out. How can we help you today?",
		"🔥 Thanks for your interest! Our sales team will contact you within 2 business hours.",
	}, sentBodies(env))

	contact, err := env.store.GetContact(context.Background(), env.tenantID, "wa-123")
	require.NoError(t, err)
	assert.True(t, contact.HasTag("hot_lead"))
}

func TestService_FixtureStandardSupport(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	loadFixture(t, env, "customer_support.yaml")
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("I could use some assistance"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.RunStatusCompleted, reports[0].Run.Status)

	assert.Equal(t, []string{
		"📞 Thank you for contacting AutomationService. We'll respond within 24 hours.",
	}, sentBodies(env))
}

func TestService_TimedOutRunReplaysWithoutDuplicateSends(t *testing.T) {
	env := newTestEnv(t, WithRunTimeout(30*time.Millisecond))
	env.contact()

	w, err := workflow.NewBuilder(env.tenantID, "Two Step", workflow.TriggerKeyword).
		AddTriggerNode("trigger_1", workflow.TriggerConfig{TriggerType: workflow.TriggerKeyword, Keywords: []string{"hello"}}).
		AddMessageNode("message_1", workflow.MessageConfig{Text: "first"}).
		AddMessageNode("message_2", workflow.MessageConfig{Text: "second"}).
		AddEdge("trigger_1", "message_1").
		AddEdge("message_1", "message_2").
		Build()
	require.NoError(t, err)
	env.publish(t, w)
	service := newTestService(t, env)

	// The second send hangs until the run budget expires.
	env.gateway.SendFunc = func(ctx context.Context, msg gateway.OutboundMessage) error {
		if msg.Body == "second" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	event := env.event("hello there")
	reports, err := service.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.RunStatusFailed, reports[0].Run.Status)
	assert.Contains(t, reports[0].Run.LastError, "RUN_TIMEOUT")
	assert.Equal(t, []string{"first"}, sentBodies(env))

	// Manual replay: the failed run is evicted and the event re-delivered
	// after the gateway recovers. The first send carries the same
	// idempotency key, so it must not go out twice.
	env.gateway.SendFunc = nil
	_, err = env.ledger.Evict(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)

	reports, err = service.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.RunStatusCompleted, reports[0].Run.Status)
	assert.Equal(t, []string{"first", "second"}, sentBodies(env))
}
