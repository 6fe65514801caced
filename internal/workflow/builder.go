package workflow

import (
	"fmt"
	"time"

	"github.com/automationservice/flowengine/internal/types"
)

// Builder provides a fluent API for constructing workflow versions.
// It accumulates errors during building and reports them at Build() time,
// after running full publish-time validation.
type Builder struct {
	workflow *Workflow
	errors   []error
}

// NewBuilder creates a Builder for a fresh version of a tenant workflow.
func NewBuilder(tenantID types.ID, name string, kind TriggerKind) *Builder {
	return &Builder{
		workflow: &Workflow{
			TenantID:    tenantID,
			ID:          types.NewID(),
			Name:        name,
			TriggerKind: kind,
			Version:     1,
			Active:      true,
			Nodes:       make(map[string]*Node),
			CreatedAt:   time.Now(),
		},
	}
}

// WithID overrides the generated workflow ID, for republishing a new
// version of an existing workflow.
func (b *Builder) WithID(id types.ID) *Builder {
	b.workflow.ID = id
	return b
}

// WithVersion sets the version number of the build.
func (b *Builder) WithVersion(version int) *Builder {
	if version < 1 {
		b.errors = append(b.errors, fmt.Errorf("version must be >= 1, got %d", version))
		return b
	}
	b.workflow.Version = version
	return b
}

// WithDescription sets the workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.workflow.Description = desc
	return b
}

// WithCreatedAt sets the creation timestamp, which orders trigger matches.
func (b *Builder) WithCreatedAt(t time.Time) *Builder {
	b.workflow.CreatedAt = t
	return b
}

// AddNode adds a node. A duplicate node ID is accumulated as a
// WORKFLOW_DUPLICATE_ID error.
func (b *Builder) AddNode(node *Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, fmt.Errorf("cannot add nil node"))
		return b
	}
	if node.ID == "" {
		b.errors = append(b.errors, fmt.Errorf("node must have an ID"))
		return b
	}
	if _, exists := b.workflow.Nodes[node.ID]; exists {
		b.errors = append(b.errors, types.NewError(types.WORKFLOW_DUPLICATE_ID,
			fmt.Sprintf("node with ID %q already exists", node.ID)))
		return b
	}
	b.workflow.Nodes[node.ID] = node
	return b
}

// AddTriggerNode creates and adds a trigger node.
func (b *Builder) AddTriggerNode(id string, cfg TriggerConfig) *Builder {
	return b.AddNode(&Node{
		ID:      id,
		Type:    NodeTypeTrigger,
		Name:    fmt.Sprintf("trigger:%s", id),
		Trigger: &cfg,
	})
}

// AddConditionNode creates and adds a condition node.
func (b *Builder) AddConditionNode(id string, cfg ConditionConfig) *Builder {
	return b.AddNode(&Node{
		ID:        id,
		Type:      NodeTypeCondition,
		Name:      fmt.Sprintf("condition:%s", id),
		Condition: &cfg,
	})
}

// AddMessageNode creates and adds a message node.
func (b *Builder) AddMessageNode(id string, cfg MessageConfig) *Builder {
	if cfg.MessageType == "" {
		cfg.MessageType = MessageTypeText
	}
	return b.AddNode(&Node{
		ID:      id,
		Type:    NodeTypeMessage,
		Name:    fmt.Sprintf("message:%s", id),
		Message: &cfg,
	})
}

// AddTagNode creates and adds a tag node.
func (b *Builder) AddTagNode(id string, cfg TagConfig) *Builder {
	return b.AddNode(&Node{
		ID:   id,
		Type: NodeTypeTag,
		Name: fmt.Sprintf("tag:%s", id),
		Tag:  &cfg,
	})
}

// AddEdge adds a directed edge. Declaration order is preserved and defines
// branch-arm evaluation order.
func (b *Builder) AddEdge(from, to string) *Builder {
	return b.addEdge(from, to, "")
}

// AddGuardedEdge adds a directed edge with a branch-arm guard.
func (b *Builder) AddGuardedEdge(from, to string, guard EdgeGuard) *Builder {
	return b.addEdge(from, to, guard)
}

func (b *Builder) addEdge(from, to string, guard EdgeGuard) *Builder {
	if from == "" {
		b.errors = append(b.errors, fmt.Errorf("edge must have a non-empty 'from' node"))
		return b
	}
	if to == "" {
		b.errors = append(b.errors, fmt.Errorf("edge must have a non-empty 'to' node"))
		return b
	}
	b.workflow.Edges = append(b.workflow.Edges, Edge{From: from, To: to, Guard: guard})
	return b
}

// WithRetryPolicy sets the retry policy on an existing action node.
func (b *Builder) WithRetryPolicy(nodeID string, policy *RetryPolicy) *Builder {
	node, exists := b.workflow.Nodes[nodeID]
	if !exists {
		b.errors = append(b.errors, fmt.Errorf("cannot set retry policy on non-existent node %q", nodeID))
		return b
	}
	node.RetryPolicy = policy
	return b
}

// Build runs publish-time validation and returns the workflow version, or
// the accumulated and validation errors.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("workflow build failed with %d error(s): %v", len(b.errors), b.errors)
	}
	if err := NewValidator().Validate(b.workflow); err != nil {
		return nil, err
	}
	return b.workflow, nil
}
