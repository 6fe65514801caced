package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automationservice/flowengine/internal/types"
)

// Validator performs publish-time validation of workflow versions. It is
// stateless; a validated version never needs re-checking at run time, so
// graph walks can assume a well-formed DAG.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs all publish-time checks on a workflow version and returns
// the first specific error encountered:
//   - WORKFLOW_INVALID for structural problems (nil, empty, bad payloads)
//   - WORKFLOW_DANGLING_EDGE for edges referencing missing nodes
//   - WORKFLOW_CYCLE when the graph is not a DAG
//   - WORKFLOW_UNREACHABLE for non-trigger nodes that cannot be reached
//
// On success it computes and sets the workflow's entry points.
func (v *Validator) Validate(w *Workflow) error {
	if w == nil {
		return types.NewError(types.WORKFLOW_INVALID, "workflow cannot be nil")
	}
	if len(w.Nodes) == 0 {
		return types.NewError(types.WORKFLOW_INVALID, "workflow must contain at least one node")
	}
	if !w.TriggerKind.Valid() {
		return types.NewError(types.WORKFLOW_INVALID,
			fmt.Sprintf("unknown trigger kind %q", w.TriggerKind))
	}

	if err := v.validateNodes(w); err != nil {
		return err
	}
	if err := v.validateEdges(w); err != nil {
		return err
	}

	cycle := v.detectCycle(w)
	if len(cycle) > 0 {
		return types.NewError(types.WORKFLOW_CYCLE,
			fmt.Sprintf("cycle detected in workflow: %s", strings.Join(cycle, " -> ")))
	}

	if err := v.validateReachability(w); err != nil {
		return err
	}

	return nil
}

// validateNodes checks node identity and that each node carries exactly the
// typed config payload its kind requires.
func (v *Validator) validateNodes(w *Workflow) error {
	for id, node := range w.Nodes {
		if node == nil {
			return types.NewError(types.WORKFLOW_INVALID, fmt.Sprintf("node %q is nil", id))
		}
		if node.ID != id {
			return types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("node key %q does not match node ID %q", id, node.ID))
		}
		if !node.Type.Valid() {
			return types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("node %q has unknown type %q", id, node.Type))
		}

		switch node.Type {
		case NodeTypeTrigger:
			if node.Trigger == nil {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("trigger node %q is missing its trigger config", id))
			}
			if !node.Trigger.TriggerType.Valid() {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("trigger node %q has unknown trigger type %q", id, node.Trigger.TriggerType))
			}
		case NodeTypeCondition:
			if node.Condition == nil {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("condition node %q is missing its condition config", id))
			}
			if node.Condition.Predicate == "" {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("condition node %q has an empty predicate", id))
			}
		case NodeTypeMessage:
			if node.Message == nil {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("message node %q is missing its message config", id))
			}
			if node.Message.Text == "" {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("message node %q has empty text", id))
			}
		case NodeTypeTag:
			if node.Tag == nil {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("tag node %q is missing its tag config", id))
			}
			if node.Tag.TagName == "" {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("tag node %q has an empty tag name", id))
			}
			if !node.Tag.Action.Valid() {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("tag node %q has unknown action %q", id, node.Tag.Action))
			}
		}
	}
	return nil
}

// validateEdges checks that every edge references existing nodes and that
// guards appear only where they are meaningful.
func (v *Validator) validateEdges(w *Workflow) error {
	for _, edge := range w.Edges {
		if _, exists := w.Nodes[edge.From]; !exists {
			return types.NewError(types.WORKFLOW_DANGLING_EDGE,
				fmt.Sprintf("edge references non-existent source node %q", edge.From))
		}
		if _, exists := w.Nodes[edge.To]; !exists {
			return types.NewError(types.WORKFLOW_DANGLING_EDGE,
				fmt.Sprintf("edge references non-existent destination node %q", edge.To))
		}
		if !edge.Guard.Valid() {
			return types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("edge %s -> %s has unknown guard %q", edge.From, edge.To, edge.Guard))
		}
		if edge.Guard != "" && w.Nodes[edge.From].Type != NodeTypeCondition {
			return types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("edge %s -> %s has a guard but %q is not a condition node", edge.From, edge.To, edge.From))
		}
	}
	return nil
}

// detectCycle runs DFS with color marking (white/gray/black) and returns
// the node path of the first cycle found, or nil.
func (v *Validator) detectCycle(w *Workflow) []string {
	adj := v.adjacency(w)

	// 0 = unvisited, 1 = in-progress, 2 = done
	color := make(map[string]int, len(w.Nodes))
	parent := make(map[string]string)

	var dfs func(nodeID string) []string
	dfs = func(nodeID string) []string {
		color[nodeID] = 1

		for _, neighbor := range adj[nodeID] {
			if color[neighbor] == 0 {
				parent[neighbor] = nodeID
				if cycle := dfs(neighbor); cycle != nil {
					return cycle
				}
			} else if color[neighbor] == 1 {
				// Back edge: reconstruct the cycle path.
				cycle := []string{neighbor}
				current := nodeID
				for current != neighbor {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				return append([]string{neighbor}, cycle...)
			}
		}

		color[nodeID] = 2
		return nil
	}

	for nodeID := range w.Nodes {
		if color[nodeID] == 0 {
			if cycle := dfs(nodeID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// validateReachability checks the entry-set contract: nodes with no incoming
// edges must be trigger nodes, trigger nodes must have no incoming edges,
// and every node must be reachable from the entry set. On success the entry
// points are recorded on the workflow in deterministic (edge-independent)
// order.
func (v *Validator) validateReachability(w *Workflow) error {
	hasIncoming := make(map[string]bool, len(w.Nodes))
	for _, edge := range w.Edges {
		hasIncoming[edge.To] = true
	}

	var entry []string
	for id, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			if hasIncoming[id] {
				return types.NewError(types.WORKFLOW_INVALID,
					fmt.Sprintf("trigger node %q must not have incoming edges", id))
			}
			entry = append(entry, id)
			continue
		}
		if !hasIncoming[id] {
			return types.NewError(types.WORKFLOW_UNREACHABLE,
				fmt.Sprintf("node %q has no incoming edges and is not a trigger", id))
		}
	}
	if len(entry) == 0 {
		return types.NewError(types.WORKFLOW_INVALID, "workflow has no trigger node")
	}

	// BFS from the entry set; anything unvisited is unreachable.
	adj := v.adjacency(w)
	visited := make(map[string]bool, len(w.Nodes))
	queue := append([]string{}, entry...)
	for _, id := range entry {
		visited[id] = true
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range adj[current] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	for id := range w.Nodes {
		if !visited[id] {
			return types.NewError(types.WORKFLOW_UNREACHABLE,
				fmt.Sprintf("node %q is not reachable from any trigger node", id))
		}
	}

	sort.Strings(entry)
	w.EntryPoints = entry
	return nil
}

// TopologicalSort orders node IDs with Kahn's algorithm (BFS over
// in-degrees). The registry caches the result once per published version.
func (v *Validator) TopologicalSort(w *Workflow) ([]string, error) {
	if w == nil || len(w.Nodes) == 0 {
		return []string{}, nil
	}

	adj := v.adjacency(w)
	inDegree := make(map[string]int, len(w.Nodes))
	for nodeID := range w.Nodes {
		inDegree[nodeID] = 0
	}
	for _, neighbors := range adj {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	var queue []string
	for nodeID, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, nodeID)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(w.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, neighbor := range adj[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(w.Nodes) {
		return nil, types.NewError(types.WORKFLOW_CYCLE,
			"cannot perform topological sort: cycle detected in workflow")
	}
	return result, nil
}

// adjacency builds an adjacency list preserving edge declaration order.
func (v *Validator) adjacency(w *Workflow) map[string][]string {
	adj := make(map[string][]string, len(w.Nodes))
	for nodeID := range w.Nodes {
		adj[nodeID] = nil
	}
	for _, edge := range w.Edges {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	return adj
}
