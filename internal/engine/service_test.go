package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/trigger"
	"github.com/automationservice/flowengine/internal/workflow"
)

func newTestService(t *testing.T, env *testEnv) *Service {
	t.Helper()
	matcher := trigger.NewMatcher(env.store, trigger.WithLogger(quietLogger()))
	return NewService(matcher, env.coordinator, WithServiceLogger(quietLogger()))
}

func welcomeWorkflow(t *testing.T, env *testEnv) *workflow.Workflow {
	t.Helper()
	w, err := workflow.NewBuilder(env.tenantID, "Welcome Automation", workflow.TriggerMessageReceived).
		AddTriggerNode("trigger_1", workflow.TriggerConfig{TriggerType: workflow.TriggerMessageReceived}).
		AddMessageNode("message_1", workflow.MessageConfig{Text: "Welcome! How can we help you today?"}).
		AddEdge("trigger_1", "message_1").
		Build()
	require.NoError(t, err)
	return w
}

func TestService_UrgentSupportScenario(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	env.publish(t, supportWorkflow(t, env.tenantID))
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("I need support urgent please"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	report := reports[0]
	require.NoError(t, report.Err)
	assert.Equal(t, "Customer Support Automation", report.WorkflowName)
	assert.Equal(t, ledger.RunStatusCompleted, report.Run.Status)

	sent := env.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "We understand this is urgent.", sent[0].Body)
}

func TestService_StandardLeadScenario(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	env.publish(t, leadWorkflow(t, env.tenantID))
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("what is the price"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.RunStatusCompleted, reports[0].Run.Status)

	// Not interested: the default arm replies and the hot_lead tag is skipped.
	sent := env.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "We'll get back to you soon.", sent[0].Body)

	contact, err := env.store.GetContact(context.Background(), env.tenantID, "wa-123")
	require.NoError(t, err)
	assert.False(t, contact.HasTag("hot_lead"))
}

func TestService_MultipleWorkflowsOneEvent(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	env.publish(t, welcomeWorkflow(t, env))
	env.publish(t, supportWorkflow(t, env.tenantID))
	env.publish(t, leadWorkflow(t, env.tenantID))
	service := newTestService(t, env)

	// Fires the catch-all and both keyword workflows at once.
	reports, err := service.HandleEvent(context.Background(), env.event("I'd like support and a price, I am interested"))
	require.NoError(t, err)
	require.Len(t, reports, 3)

	for _, report := range reports {
		require.NoError(t, report.Err)
		assert.Equal(t, ledger.RunStatusCompleted, report.Run.Status)
	}

	// welcome + standard support reply + hot-lead reply.
	assert.Len(t, env.gateway.Sent(), 3)

	contact, err := env.store.GetContact(context.Background(), env.tenantID, "wa-123")
	require.NoError(t, err)
	assert.True(t, contact.HasTag("hot_lead"))
}

func TestService_NoMatches(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	env.publish(t, supportWorkflow(t, env.tenantID))
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("just saying hello"))
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, env.gateway.Sent())
}

func TestService_DuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.contact()
	env.publish(t, leadWorkflow(t, env.tenantID))
	service := newTestService(t, env)

	event := env.event("price please, very interested")

	reports, err := service.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Skipped)

	// The provider delivers the same event again.
	reports, err = service.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Skipped)

	// Exactly one send and one tag write happened.
	assert.Len(t, env.gateway.Sent(), 1)
	contact, err := env.store.GetContact(context.Background(), env.tenantID, "wa-123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), contact.Version)
}

func TestService_ConcurrentRunsDoNotLoseTagWrites(t *testing.T) {
	env := newTestEnv(t)
	env.contact()

	tagOnly := func(name, keyword, tag string) *workflow.Workflow {
		w, err := workflow.NewBuilder(env.tenantID, name, workflow.TriggerKeyword).
			AddTriggerNode("trigger_1", workflow.TriggerConfig{TriggerType: workflow.TriggerKeyword, Keywords: []string{keyword}}).
			AddTagNode("tag_1", workflow.TagConfig{TagName: tag, Action: workflow.TagActionAdd}).
			AddEdge("trigger_1", "tag_1").
			Build()
		require.NoError(t, err)
		return w
	}

	env.publish(t, tagOnly("Tag Billing", "invoice", "billing"))
	env.publish(t, tagOnly("Tag Sales", "invoice", "sales"))
	env.publish(t, tagOnly("Tag Retention", "invoice", "retention"))
	service := newTestService(t, env)

	reports, err := service.HandleEvent(context.Background(), env.event("please send the invoice"))
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, report := range reports {
		require.NoError(t, report.Err)
		assert.Equal(t, ledger.RunStatusCompleted, report.Run.Status)
	}

	// Three concurrent compare-and-set writers; no update may be lost.
	contact, err := env.store.GetContact(context.Background(), env.tenantID, "wa-123")
	require.NoError(t, err)
	assert.True(t, contact.HasTag("billing"))
	assert.True(t, contact.HasTag("sales"))
	assert.True(t, contact.HasTag("retention"))
	assert.Equal(t, int64(4), contact.Version)
}
