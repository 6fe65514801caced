package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and the
// simulate command. Its CAS semantics match the SQLite implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows []*workflow.Workflow
	contacts  map[contactKey]*Contact
}

type contactKey struct {
	tenantID   types.ID
	whatsappID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contacts: make(map[contactKey]*Contact)}
}

// PutWorkflow registers a workflow version.
func (s *MemoryStore) PutWorkflow(w *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = append(s.workflows, w)
}

// SaveWorkflow persists a published workflow version.
func (s *MemoryStore) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	s.PutWorkflow(w)
	return nil
}

// PutContact inserts or replaces a contact, assigning version 1 when unset.
func (s *MemoryStore) PutContact(c *Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Version == 0 {
		c.Version = 1
	}
	s.contacts[contactKey{tenantID: c.TenantID, whatsappID: c.WhatsappID}] = c.Clone()
}

// ActiveWorkflows returns active versions of the given kind in creation
// order.
func (s *MemoryStore) ActiveWorkflows(ctx context.Context, tenantID types.ID, kind workflow.TriggerKind) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if w.TenantID == tenantID && w.TriggerKind == kind && w.Active {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetContact returns a snapshot of the contact.
func (s *MemoryStore) GetContact(ctx context.Context, tenantID types.ID, whatsappID string) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[contactKey{tenantID: tenantID, whatsappID: whatsappID}]
	if !ok {
		return nil, types.NewError(types.CONTACT_NOT_FOUND,
			fmt.Sprintf("contact %s not found for tenant %s", whatsappID, tenantID))
	}
	return c.Clone(), nil
}

// UpdateContactTags compare-and-sets the tag set, bumping the version.
func (s *MemoryStore) UpdateContactTags(ctx context.Context, tenantID types.ID, whatsappID string, expectedVersion int64, newTags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contactKey{tenantID: tenantID, whatsappID: whatsappID}
	c, ok := s.contacts[key]
	if !ok {
		return types.NewError(types.CONTACT_NOT_FOUND,
			fmt.Sprintf("contact %s not found for tenant %s", whatsappID, tenantID))
	}
	if c.Version != expectedVersion {
		return types.NewRetryableError(types.TAG_VERSION_CONFLICT,
			fmt.Sprintf("contact %s tag set changed (expected version %d, have %d)",
				whatsappID, expectedVersion, c.Version))
	}

	c.Tags = append([]string(nil), newTags...)
	c.Version++
	c.UpdatedAt = time.Now()
	return nil
}
