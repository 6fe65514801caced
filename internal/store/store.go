// Package store is the persistence collaborator supplying workflow
// definitions and contact records to the engine.
package store

import (
	"context"
	"time"

	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// Contact is a tenant-scoped WhatsApp contact. The tag set is the only
// shared mutable state the engine touches; Version backs the optimistic
// compare-and-set used by UpdateContactTags.
type Contact struct {
	TenantID   types.ID  `json:"tenant_id"`
	WhatsappID string    `json:"whatsapp_id"`
	Name       string    `json:"name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Tags       []string  `json:"tags"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate a snapshot freely.
func (c *Contact) Clone() *Contact {
	clone := *c
	clone.Tags = append([]string(nil), c.Tags...)
	return &clone
}

// Store exposes the read/write surface the engine needs from persistence.
//
// UpdateContactTags applies the new tag set only when the stored version
// still equals expectedVersion; otherwise it returns a retryable
// TAG_VERSION_CONFLICT error and the caller re-reads and retries. Blind
// overwrites are never performed, so concurrent runs cannot lose updates.
type Store interface {
	// SaveWorkflow persists a published workflow version.
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error

	// ActiveWorkflows returns the tenant's active workflow versions of the
	// given trigger kind, ordered by creation time.
	ActiveWorkflows(ctx context.Context, tenantID types.ID, kind workflow.TriggerKind) ([]*workflow.Workflow, error)

	// GetContact returns the contact, or a CONTACT_NOT_FOUND error.
	GetContact(ctx context.Context, tenantID types.ID, whatsappID string) (*Contact, error)

	// UpdateContactTags compare-and-sets the contact's tag set.
	UpdateContactTags(ctx context.Context, tenantID types.ID, whatsappID string, expectedVersion int64, newTags []string) error
}
