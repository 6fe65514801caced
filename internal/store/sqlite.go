package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

// SQLiteStore is a Store backed by SQLite. Workflow versions are stored as
// JSON documents (they are immutable snapshots); contacts carry an explicit
// version column backing the tag-set compare-and-set.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// SQLiteConfig holds connection options for the SQLite store.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultSQLiteConfig returns sensible defaults for the given path.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// OpenSQLite opens the store with WAL mode and foreign keys enabled, and
// creates the schema if missing.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping store database: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: cfg.Path}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			tenant_id  TEXT NOT NULL,
			id         TEXT NOT NULL,
			version    INTEGER NOT NULL,
			name       TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			definition TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_workflows_tenant_kind
			ON workflows (tenant_id, trigger_kind, active);

		CREATE TABLE IF NOT EXISTS contacts (
			tenant_id   TEXT NOT NULL,
			whatsapp_id TEXT NOT NULL,
			name        TEXT,
			phone       TEXT,
			tags        TEXT NOT NULL DEFAULT '[]',
			version     INTEGER NOT NULL DEFAULT 1,
			updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, whatsapp_id)
		);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to migrate store schema", err)
	}
	return nil
}

// SaveWorkflow persists a published workflow version.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	definition, err := json.Marshal(w)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to marshal workflow", err)
	}

	query := `
		INSERT INTO workflows (tenant_id, id, version, name, trigger_kind, active, definition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		w.TenantID, w.ID, w.Version, w.Name, w.TriggerKind, boolToInt(w.Active),
		string(definition), w.CreatedAt.UTC(),
	)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to save workflow", err)
	}
	return nil
}

// SaveContact inserts or replaces a contact record.
func (s *SQLiteStore) SaveContact(ctx context.Context, c *Contact) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to marshal contact tags", err)
	}
	version := c.Version
	if version == 0 {
		version = 1
	}

	query := `
		INSERT OR REPLACE INTO contacts (tenant_id, whatsapp_id, name, phone, tags, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err = s.conn.ExecContext(ctx, query,
		c.TenantID, c.WhatsappID, c.Name, c.Phone, string(tags), version,
	)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to save contact", err)
	}
	return nil
}

// ActiveWorkflows returns the tenant's active versions of the given kind in
// creation order.
func (s *SQLiteStore) ActiveWorkflows(ctx context.Context, tenantID types.ID, kind workflow.TriggerKind) ([]*workflow.Workflow, error) {
	query := `
		SELECT definition FROM workflows
		WHERE tenant_id = ? AND trigger_kind = ? AND active = 1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, tenantID, kind)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to query workflows", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to scan workflow", err)
		}
		var w workflow.Workflow
		if err := json.Unmarshal([]byte(definition), &w); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to unmarshal workflow", err)
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to iterate workflows", err)
	}
	return out, nil
}

// GetContact returns the contact, or a CONTACT_NOT_FOUND error.
func (s *SQLiteStore) GetContact(ctx context.Context, tenantID types.ID, whatsappID string) (*Contact, error) {
	query := `
		SELECT name, phone, tags, version, updated_at FROM contacts
		WHERE tenant_id = ? AND whatsapp_id = ?
	`
	var c Contact
	var name, phone sql.NullString
	var tagsJSON string

	err := s.conn.QueryRowContext(ctx, query, tenantID, whatsappID).Scan(
		&name, &phone, &tagsJSON, &c.Version, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.CONTACT_NOT_FOUND,
			fmt.Sprintf("contact %s not found for tenant %s", whatsappID, tenantID))
	}
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to get contact", err)
	}

	c.TenantID = tenantID
	c.WhatsappID = whatsappID
	c.Name = name.String
	c.Phone = phone.String
	if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to unmarshal contact tags", err)
	}
	return &c, nil
}

// UpdateContactTags compare-and-sets the tag set against the version column.
// A stale expected version yields a retryable TAG_VERSION_CONFLICT.
func (s *SQLiteStore) UpdateContactTags(ctx context.Context, tenantID types.ID, whatsappID string, expectedVersion int64, newTags []string) error {
	tags, err := json.Marshal(newTags)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to marshal contact tags", err)
	}

	query := `
		UPDATE contacts
		SET tags = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND whatsapp_id = ? AND version = ?
	`
	result, err := s.conn.ExecContext(ctx, query, string(tags), tenantID, whatsappID, expectedVersion)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to update contact tags", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to read update result", err)
	}
	if affected == 0 {
		// Distinguish a missing contact from a CAS conflict.
		var exists int
		err := s.conn.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM contacts WHERE tenant_id = ? AND whatsapp_id = ?`,
			tenantID, whatsappID,
		).Scan(&exists)
		if err != nil {
			return types.WrapError(types.STORE_QUERY_FAILED, "failed to check contact", err)
		}
		if exists == 0 {
			return types.NewError(types.CONTACT_NOT_FOUND,
				fmt.Sprintf("contact %s not found for tenant %s", whatsappID, tenantID))
		}
		return types.NewRetryableError(types.TAG_VERSION_CONFLICT,
			fmt.Sprintf("contact %s tag set changed (expected version %d)", whatsappID, expectedVersion))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
