package workflow

import (
	"fmt"
	"sync"

	"github.com/automationservice/flowengine/internal/types"
)

// Snapshot is an immutable, validated workflow version paired with its
// cached topological order. The coordinator executes against exactly one
// snapshot per run; publishing a new version never mutates prior snapshots.
type Snapshot struct {
	Workflow  *Workflow
	TopoOrder []string
}

// Registry holds published workflow version snapshots in memory. Validation
// and topological sorting happen once at publish time, never per event.
// The active flag lives on the registry entry, not the workflow value, so
// deactivation never mutates a published snapshot.
type Registry struct {
	mu        sync.RWMutex
	versions  map[snapshotKey]*registryEntry
	validator *Validator
}

type snapshotKey struct {
	workflowID types.ID
	version    int
}

type registryEntry struct {
	snapshot *Snapshot
	active   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		versions:  make(map[snapshotKey]*registryEntry),
		validator: NewValidator(),
	}
}

// Publish validates a workflow version, computes its topological order, and
// registers the snapshot. Republishing an existing (ID, version) pair is
// rejected: versions are immutable once published.
func (r *Registry) Publish(w *Workflow) (*Snapshot, error) {
	if err := r.validator.Validate(w); err != nil {
		return nil, err
	}

	order, err := r.validator.TopologicalSort(w)
	if err != nil {
		return nil, err
	}

	key := snapshotKey{workflowID: w.ID, version: w.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.versions[key]; exists {
		return nil, types.NewError(types.WORKFLOW_INVALID,
			fmt.Sprintf("workflow %s version %d is already published", w.ID, w.Version))
	}

	snap := &Snapshot{Workflow: w, TopoOrder: order}
	r.versions[key] = &registryEntry{snapshot: snap, active: w.Active}
	return snap, nil
}

// LoadVersion returns the snapshot for (workflowID, version), or a
// WORKFLOW_NOT_FOUND error.
func (r *Registry) LoadVersion(workflowID types.ID, version int) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.versions[snapshotKey{workflowID: workflowID, version: version}]
	if !ok {
		return nil, types.NewError(types.WORKFLOW_NOT_FOUND,
			fmt.Sprintf("workflow %s version %d not found", workflowID, version))
	}
	return entry.snapshot, nil
}

// Deactivate marks a published version inactive. In-flight runs observe
// this at their next node boundary and fail with WORKFLOW_DEACTIVATED.
// The snapshot itself is left untouched.
func (r *Registry) Deactivate(workflowID types.ID, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.versions[snapshotKey{workflowID: workflowID, version: version}]
	if !ok {
		return types.NewError(types.WORKFLOW_NOT_FOUND,
			fmt.Sprintf("workflow %s version %d not found", workflowID, version))
	}
	entry.active = false
	return nil
}

// IsActive reports whether a published version currently accepts and
// continues runs. Unknown versions are inactive.
func (r *Registry) IsActive(workflowID types.ID, version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.versions[snapshotKey{workflowID: workflowID, version: version}]
	return ok && entry.active
}
