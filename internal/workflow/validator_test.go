package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automationservice/flowengine/internal/types"
)

// supportWorkflow builds a keyword-triggered workflow with one condition
// branching into an urgent and a standard reply.
func supportWorkflow(t *testing.T) *Workflow {
	t.Helper()
	w, err := NewBuilder(types.NewID(), "Customer Support Automation", TriggerKeyword).
		AddTriggerNode("trigger_2", TriggerConfig{
			TriggerType: TriggerKeyword,
			Keywords:    []string{"support", "help", "assistance", "automation"},
		}).
		AddConditionNode("condition_1", ConditionConfig{Predicate: "contains", Operand: "urgent"}).
		AddMessageNode("message_2", MessageConfig{Text: "We understand this is urgent."}).
		AddMessageNode("message_3", MessageConfig{Text: "We'll respond within 24 hours."}).
		AddEdge("trigger_2", "condition_1").
		AddGuardedEdge("condition_1", "message_2", GuardPass).
		AddGuardedEdge("condition_1", "message_3", GuardDefault).
		Build()
	require.NoError(t, err)
	return w
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name     string
		workflow func() *Workflow
		wantCode types.ErrorCode
	}{
		{
			name: "valid branching workflow",
			workflow: func() *Workflow {
				w := &Workflow{
					TenantID:    types.NewID(),
					ID:          types.NewID(),
					Name:        "support",
					TriggerKind: TriggerKeyword,
					Version:     1,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerKeyword, Keywords: []string{"help"}}},
						"c": {ID: "c", Type: NodeTypeCondition, Condition: &ConditionConfig{Predicate: "contains", Operand: "urgent"}},
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{Text: "hi", MessageType: MessageTypeText}},
					},
					Edges: []Edge{
						{From: "t", To: "c"},
						{From: "c", To: "m", Guard: GuardPass},
					},
				}
				return w
			},
		},
		{
			name:     "nil workflow",
			workflow: func() *Workflow { return nil },
			wantCode: types.WORKFLOW_INVALID,
		},
		{
			name: "empty workflow",
			workflow: func() *Workflow {
				return &Workflow{TriggerKind: TriggerKeyword, Nodes: map[string]*Node{}}
			},
			wantCode: types.WORKFLOW_INVALID,
		},
		{
			name: "unknown trigger kind",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerKind("CRON"),
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
					},
				}
			},
			wantCode: types.WORKFLOW_INVALID,
		},
		{
			name: "dangling edge destination",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
					},
					Edges: []Edge{{From: "t", To: "ghost"}},
				}
			},
			wantCode: types.WORKFLOW_DANGLING_EDGE,
		},
		{
			name: "cycle between action nodes",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"a": {ID: "a", Type: NodeTypeMessage, Message: &MessageConfig{Text: "a", MessageType: MessageTypeText}},
						"b": {ID: "b", Type: NodeTypeMessage, Message: &MessageConfig{Text: "b", MessageType: MessageTypeText}},
					},
					Edges: []Edge{
						{From: "t", To: "a"},
						{From: "a", To: "b"},
						{From: "b", To: "a"},
					},
				}
			},
			wantCode: types.WORKFLOW_CYCLE,
		},
		{
			name: "orphan action node",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{Text: "hi", MessageType: MessageTypeText}},
					},
				}
			},
			wantCode: types.WORKFLOW_UNREACHABLE,
		},
		{
			name: "trigger with incoming edge",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{Text: "hi", MessageType: MessageTypeText}},
					},
					Edges: []Edge{
						{From: "t", To: "m"},
						{From: "m", To: "t"},
					},
				}
			},
			wantCode: types.WORKFLOW_CYCLE,
		},
		{
			name: "no trigger node",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{Text: "hi", MessageType: MessageTypeText}},
					},
				}
			},
			wantCode: types.WORKFLOW_UNREACHABLE,
		},
		{
			name: "guard on non-condition edge",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{Text: "hi", MessageType: MessageTypeText}},
					},
					Edges: []Edge{{From: "t", To: "m", Guard: GuardFail}},
				}
			},
			wantCode: types.WORKFLOW_INVALID,
		},
		{
			name: "message node without text",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t": {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"m": {ID: "m", Type: NodeTypeMessage, Message: &MessageConfig{MessageType: MessageTypeText}},
					},
					Edges: []Edge{{From: "t", To: "m"}},
				}
			},
			wantCode: types.WORKFLOW_INVALID,
		},
		{
			name: "tag node with unknown action",
			workflow: func() *Workflow {
				return &Workflow{
					TriggerKind: TriggerMessageReceived,
					Nodes: map[string]*Node{
						"t":   {ID: "t", Type: NodeTypeTrigger, Trigger: &TriggerConfig{TriggerType: TriggerMessageReceived}},
						"tag": {ID: "tag", Type: NodeTypeTag, Tag: &TagConfig{TagName: "vip", Action: TagAction("toggle")}},
					},
					Edges: []Edge{{From: "t", To: "tag"}},
				}
			},
			wantCode: types.WORKFLOW_INVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator().Validate(tt.workflow())
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
		})
	}
}

func TestValidator_EntryPoints(t *testing.T) {
	w := supportWorkflow(t)
	assert.Equal(t, []string{"trigger_2"}, w.EntryPoints)
}

func TestValidator_TopologicalSort(t *testing.T) {
	w := supportWorkflow(t)

	order, err := NewValidator().TopologicalSort(w)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["trigger_2"], pos["condition_1"])
	assert.Less(t, pos["condition_1"], pos["message_2"])
	assert.Less(t, pos["condition_1"], pos["message_3"])
}

func TestValidator_TopologicalSortCycle(t *testing.T) {
	w := &Workflow{
		TriggerKind: TriggerMessageReceived,
		Nodes: map[string]*Node{
			"a": {ID: "a", Type: NodeTypeMessage, Message: &MessageConfig{Text: "a", MessageType: MessageTypeText}},
			"b": {ID: "b", Type: NodeTypeMessage, Message: &MessageConfig{Text: "b", MessageType: MessageTypeText}},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	_, err := NewValidator().TopologicalSort(w)
	require.Error(t, err)
	assert.Equal(t, types.WORKFLOW_CYCLE, types.CodeOf(err))
}
