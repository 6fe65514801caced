package workflow

import (
	"time"

	"github.com/automationservice/flowengine/internal/types"
)

// TriggerKind classifies how a workflow is activated by inbound events.
type TriggerKind string

const (
	// TriggerMessageReceived activates on any inbound message for the tenant.
	TriggerMessageReceived TriggerKind = "MESSAGE_RECEIVED"

	// TriggerKeyword activates when the inbound text contains one of the
	// trigger node's keywords.
	TriggerKeyword TriggerKind = "KEYWORD"
)

// Valid reports whether the trigger kind is one of the known kinds.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerMessageReceived, TriggerKeyword:
		return true
	default:
		return false
	}
}

// Workflow is one published version of a tenant-owned automation graph.
// A version is immutable once published; edits produce a new version and the
// coordinator always executes against a single version snapshot.
type Workflow struct {
	// TenantID scopes the workflow; identity is (TenantID, ID).
	TenantID types.ID `json:"tenant_id"`

	// ID is the workflow identifier, stable across versions.
	ID types.ID `json:"id"`

	// Name is a human-readable name for the workflow.
	Name string `json:"name"`

	// Description provides additional context about what the workflow does.
	Description string `json:"description,omitempty"`

	// TriggerKind selects which inbound events can activate this workflow.
	TriggerKind TriggerKind `json:"trigger_kind"`

	// Version is a monotonically increasing publish counter.
	Version int `json:"version"`

	// Active marks whether the version accepts new runs. Deactivation is
	// also checked at node boundaries for in-flight runs.
	Active bool `json:"active"`

	// Nodes contains all nodes in this version, indexed by node ID.
	Nodes map[string]*Node `json:"nodes"`

	// Edges contains all directed edges in declaration order. Order matters:
	// condition branch arms are evaluated first-match-wins in this order.
	Edges []Edge `json:"edges"`

	// EntryPoints are the trigger nodes (no incoming edges), computed at
	// publish-time validation.
	EntryPoints []string `json:"entry_points"`

	// CreatedAt orders workflows deterministically for trigger matching.
	CreatedAt time.Time `json:"created_at"`
}

// GetNode retrieves a node by ID, or nil if not present.
func (w *Workflow) GetNode(id string) *Node {
	if w.Nodes == nil {
		return nil
	}
	return w.Nodes[id]
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EntryNodes resolves the workflow's entry point IDs to nodes.
func (w *Workflow) EntryNodes() []*Node {
	nodes := make([]*Node, 0, len(w.EntryPoints))
	for _, id := range w.EntryPoints {
		if n := w.GetNode(id); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
