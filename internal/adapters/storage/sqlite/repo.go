package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/ticketflow/internal/app"
	"github.com/hylla/ticketflow/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// dsnPragmas are applied by the driver to every pooled connection.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Repository stores workflows, tickets, and ticket events in SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	name := "file:ticketflow-" + uuid.NewString() + "?mode=memory&cache=shared&" + dsnPragmas
	db, err := sql.Open(driverName, name)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newRepository(db)
}

func newRepository(db *sql.DB) (*Repository, error) {
	// One connection serializes writers; every statement inside a transaction goes through the tx.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers queries.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			is_default INTEGER NOT NULL DEFAULT 0,
			is_system_default INTEGER NOT NULL DEFAULT 0,
			current_version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			definition_json TEXT NOT NULL,
			working_json TEXT NOT NULL DEFAULT '[]',
			done_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			PRIMARY KEY(workflow_id, version),
			FOREIGN KEY(workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			assignee_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			workflow_id TEXT,
			workflow_snapshot_json TEXT,
			workflow_version INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS ticket_events (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL DEFAULT '',
			edge_id TEXT NOT NULL DEFAULT '',
			workflow_id TEXT NOT NULL DEFAULT '',
			workflow_version INTEGER NOT NULL DEFAULT 0,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY(ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	// Ticket databases created before workflow support lack the binding columns.
	ticketAlterStatements := []string{
		`ALTER TABLE tickets ADD COLUMN workflow_id TEXT`,
		`ALTER TABLE tickets ADD COLUMN workflow_snapshot_json TEXT`,
		`ALTER TABLE tickets ADD COLUMN workflow_version INTEGER`,
	}
	for _, stmt := range ticketAlterStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("migrate sqlite tickets: %w", err)
		}
	}
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_one_active ON workflows(tenant_id) WHERE status = 'ACTIVE'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_one_system_default ON workflows(tenant_id) WHERE is_system_default = 1`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_tenant_workflow ON tickets(tenant_id, workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ticket_events_ticket ON ticket_events(ticket_id, created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite indexes: %w", err)
		}
	}
	return nil
}

// workflowColumns selects a workflow row joined with one of its versions.
const workflowColumns = `
	w.id, w.tenant_id, v.name, v.version, w.status, w.is_default, w.is_system_default,
	v.definition_json, v.working_json, v.done_json, w.created_at, v.created_at`

// CreateWorkflow inserts a workflow together with its first version row.
func (r *Repository) CreateWorkflow(ctx context.Context, w domain.WorkflowDefinition) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows(id, tenant_id, name, status, is_default, is_system_default, current_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID,
		w.TenantID,
		w.Name,
		string(w.Status),
		boolInt(w.IsDefault),
		boolInt(w.IsSystemDefault),
		w.Version,
		ts(w.CreatedAt),
		ts(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if err = insertWorkflowVersion(ctx, tx, w); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// SaveWorkflowVersion appends a version row and moves the workflow's current version to it.
// Earlier version rows are never updated.
func (r *Repository) SaveWorkflowVersion(ctx context.Context, w domain.WorkflowDefinition) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE workflows
		SET name = ?, current_version = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND current_version < ?
	`, w.Name, w.Version, ts(w.UpdatedAt), w.ID, w.TenantID, w.Version)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); errors.Is(err, app.ErrNotFound) {
		err = missingOr(ctx, tx, `SELECT 1 FROM workflows WHERE id = ? AND tenant_id = ?`, app.ErrVersionConflict, w.ID, w.TenantID)
	}
	if err != nil {
		return err
	}
	if err = insertWorkflowVersion(ctx, tx, w); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// GetWorkflow returns a workflow at its current version.
func (r *Repository) GetWorkflow(ctx context.Context, tenantID, workflowID string) (domain.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = w.current_version
		WHERE w.tenant_id = ? AND w.id = ?
	`, tenantID, workflowID)
	return scanWorkflow(row)
}

// GetWorkflowVersion returns one retained version of a workflow.
func (r *Repository) GetWorkflowVersion(ctx context.Context, tenantID, workflowID string, version int) (domain.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = ?
		WHERE w.tenant_id = ? AND w.id = ?
	`, version, tenantID, workflowID)
	return scanWorkflow(row)
}

// ListWorkflows lists a tenant's workflows at their current versions.
func (r *Repository) ListWorkflows(ctx context.Context, tenantID string) ([]domain.WorkflowDefinition, error) {
	return r.queryWorkflows(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = w.current_version
		WHERE w.tenant_id = ?
		ORDER BY w.created_at ASC, w.id ASC
	`, tenantID)
}

// ListWorkflowVersions lists every retained version of a workflow, oldest first.
func (r *Repository) ListWorkflowVersions(ctx context.Context, tenantID, workflowID string) ([]domain.WorkflowDefinition, error) {
	return r.queryWorkflows(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id
		WHERE w.tenant_id = ? AND w.id = ?
		ORDER BY v.version ASC
	`, tenantID, workflowID)
}

// GetActiveWorkflow returns the tenant's ACTIVE workflow.
func (r *Repository) GetActiveWorkflow(ctx context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = w.current_version
		WHERE w.tenant_id = ? AND w.status = ?
	`, tenantID, string(domain.WorkflowStatusActive))
	return scanWorkflow(row)
}

// GetSystemDefaultWorkflow returns the tenant's system-default workflow.
func (r *Repository) GetSystemDefaultWorkflow(ctx context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = w.current_version
		WHERE w.tenant_id = ? AND w.is_system_default = 1
	`, tenantID)
	return scanWorkflow(row)
}

// ActivateWorkflow marks one workflow ACTIVE and returns any previously active
// workflow of the tenant to DRAFT in the same transaction.
func (r *Repository) ActivateWorkflow(ctx context.Context, tenantID, workflowID string, at time.Time) (domain.WorkflowDefinition, error) {
	if err := r.activateWorkflow(ctx, tenantID, workflowID, at); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return r.GetWorkflow(ctx, tenantID, workflowID)
}

func (r *Repository) activateWorkflow(ctx context.Context, tenantID, workflowID string, at time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE tenant_id = ? AND id = ?`, tenantID, workflowID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		err = app.ErrNotFound
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND status = ? AND id <> ?
	`, string(domain.WorkflowStatusDraft), ts(at), tenantID, string(domain.WorkflowStatusActive), workflowID)
	if err != nil {
		return fmt.Errorf("deactivate workflows: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, string(domain.WorkflowStatusActive), ts(at), tenantID, workflowID)
	if err != nil {
		return fmt.Errorf("activate workflow: %w", err)
	}
	err = tx.Commit()
	return err
}

// SetWorkflowStatus updates a workflow's lifecycle status.
func (r *Repository) SetWorkflowStatus(ctx context.Context, tenantID, workflowID string, status domain.WorkflowStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, string(status), ts(at), tenantID, workflowID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// DeleteWorkflow removes a workflow and all of its versions.
func (r *Repository) DeleteWorkflow(ctx context.Context, tenantID, workflowID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM workflow_versions
		WHERE workflow_id IN (SELECT id FROM workflows WHERE tenant_id = ? AND id = ?)
	`, tenantID, workflowID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE tenant_id = ? AND id = ?`, tenantID, workflowID)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// ListTenants lists every tenant that owns workflows or tickets.
func (r *Repository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id FROM workflows
		UNION
		SELECT tenant_id FROM tickets
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		out = append(out, tenantID)
	}
	return out, rows.Err()
}

// ticketColumns selects a full ticket row.
const ticketColumns = `
	id, tenant_id, title, description, priority, assignee_id, status, created_by, created_at, updated_at,
	workflow_id, workflow_snapshot_json, workflow_version`

// CreateTicket inserts a ticket. A nil snapshot is stored as NULL.
func (r *Repository) CreateTicket(ctx context.Context, t domain.Ticket) error {
	snapshotJSON, err := encodeSnapshot(t.WorkflowSnapshot)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tickets(`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.TenantID,
		t.Title,
		t.Description,
		string(t.Priority),
		t.AssigneeID,
		t.Status,
		t.CreatedBy,
		ts(t.CreatedAt),
		ts(t.UpdatedAt),
		nullableString(t.WorkflowID),
		snapshotJSON,
		nullableInt(t.WorkflowVersion),
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// GetTicket returns one ticket.
func (r *Repository) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, ticketID)
	return scanTicket(row)
}

// UpdateTicketStatus moves a ticket from one stored status to another.
// A ticket whose status moved on since it was read yields app.ErrStatusChanged.
func (r *Repository) UpdateTicketStatus(ctx context.Context, ticketID, fromStatus, toStatus string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, toStatus, ts(at), ticketID, fromStatus)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); !errors.Is(err, app.ErrNotFound) {
		return err
	}
	return missingOr(ctx, r.db, `SELECT 1 FROM tickets WHERE id = ?`, app.ErrStatusChanged, ticketID)
}

// UpdateTicketAssignee persists a new assignee.
func (r *Repository) UpdateTicketAssignee(ctx context.Context, ticketID, assigneeID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tickets SET assignee_id = ?, updated_at = ? WHERE id = ?`, assigneeID, ts(at), ticketID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// SaveWorkflowSnapshot sets a ticket's snapshot once. The NULL guard makes the
// write idempotent: a ticket that already carries a snapshot reports ErrSnapshotAlreadySet.
func (r *Repository) SaveWorkflowSnapshot(ctx context.Context, ticketID string, snapshot domain.WorkflowSnapshot, version int) error {
	snapshotJSON, err := encodeSnapshot(&snapshot)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets
		SET workflow_snapshot_json = ?, workflow_version = ?, workflow_id = ?
		WHERE id = ? AND workflow_snapshot_json IS NULL
	`, snapshotJSON, version, snapshot.ID, ticketID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tickets WHERE id = ?`, ticketID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return app.ErrNotFound
	}
	return domain.ErrSnapshotAlreadySet
}

// ListTicketsMissingSnapshot lists a tenant's tickets that have no workflow snapshot.
func (r *Repository) ListTicketsMissingSnapshot(ctx context.Context, tenantID string) ([]domain.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = ? AND workflow_snapshot_json IS NULL
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

// CountTicketsByWorkflow counts tickets bound to one workflow.
func (r *Repository) CountTicketsByWorkflow(ctx context.Context, tenantID, workflowID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tickets WHERE tenant_id = ? AND workflow_id = ?
	`, tenantID, workflowID).Scan(&n)
	return n, err
}

// CountTicketsByWorkflowStatus groups a tenant's tickets by workflow id and status.
func (r *Repository) CountTicketsByWorkflowStatus(ctx context.Context, tenantID string) ([]domain.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(workflow_id, ''), status, COUNT(1)
		FROM tickets
		WHERE tenant_id = ?
		GROUP BY COALESCE(workflow_id, ''), status
		ORDER BY 1, 2
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StatusCount, 0)
	for rows.Next() {
		var c domain.StatusCount
		if err := rows.Scan(&c.WorkflowID, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateTicketEvent appends one ticket history entry.
func (r *Repository) CreateTicketEvent(ctx context.Context, event domain.TicketEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode ticket event metadata: %w", err)
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ticket_events(id, ticket_id, tenant_id, kind, actor_id, from_status, to_status, edge_id, workflow_id, workflow_version, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.TicketID,
		event.TenantID,
		string(event.Kind),
		event.ActorID,
		event.FromStatus,
		event.ToStatus,
		event.EdgeID,
		event.WorkflowID,
		event.WorkflowVersion,
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert ticket event: %w", err)
	}
	return nil
}

// ListTicketEvents lists a ticket's history, newest first.
func (r *Repository) ListTicketEvents(ctx context.Context, ticketID string, limit int) ([]domain.TicketEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, tenant_id, kind, actor_id, from_status, to_status, edge_id, workflow_id, workflow_version, metadata_json, created_at
		FROM ticket_events
		WHERE ticket_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TicketEvent, 0)
	for rows.Next() {
		var (
			event       domain.TicketEvent
			kindRaw     string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.TenantID,
			&kindRaw,
			&event.ActorID,
			&event.FromStatus,
			&event.ToStatus,
			&event.EdgeID,
			&event.WorkflowID,
			&event.WorkflowVersion,
			&metadataRaw,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		event.Kind = domain.TicketEventKind(kindRaw)
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode ticket_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertWorkflowVersion writes one immutable version row.
func insertWorkflowVersion(ctx context.Context, execer execerContext, w domain.WorkflowDefinition) error {
	definitionJSON, err := json.Marshal(w.Graph)
	if err != nil {
		return fmt.Errorf("encode workflow definition: %w", err)
	}
	workingJSON, err := json.Marshal(nonNil(w.WorkingStatuses))
	if err != nil {
		return fmt.Errorf("encode working statuses: %w", err)
	}
	doneJSON, err := json.Marshal(nonNil(w.DoneStatuses))
	if err != nil {
		return fmt.Errorf("encode done statuses: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO workflow_versions(workflow_id, version, name, definition_json, working_json, done_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID,
		w.Version,
		w.Name,
		string(definitionJSON),
		string(workingJSON),
		string(doneJSON),
		ts(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workflow version: %w", err)
	}
	return nil
}

func (r *Repository) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanWorkflow decodes one workflow row joined with a version row.
func scanWorkflow(s scanner) (domain.WorkflowDefinition, error) {
	var (
		w             domain.WorkflowDefinition
		statusRaw     string
		isDefault     int
		isSystem      int
		definitionRaw string
		workingRaw    string
		doneRaw       string
		createdRaw    string
		updatedRaw    string
	)
	if err := s.Scan(
		&w.ID,
		&w.TenantID,
		&w.Name,
		&w.Version,
		&statusRaw,
		&isDefault,
		&isSystem,
		&definitionRaw,
		&workingRaw,
		&doneRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkflowDefinition{}, app.ErrNotFound
		}
		return domain.WorkflowDefinition{}, err
	}
	status, err := domain.ParseWorkflowStatus(statusRaw)
	if err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("decode workflows.status %q: %w", statusRaw, err)
	}
	w.Status = status
	w.IsDefault = isDefault != 0
	w.IsSystemDefault = isSystem != 0
	if err := json.Unmarshal([]byte(definitionRaw), &w.Graph); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("decode workflow_versions.definition_json: %w", err)
	}
	if err := json.Unmarshal([]byte(workingRaw), &w.WorkingStatuses); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("decode workflow_versions.working_json: %w", err)
	}
	if err := json.Unmarshal([]byte(doneRaw), &w.DoneStatuses); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("decode workflow_versions.done_json: %w", err)
	}
	w.CreatedAt = parseTS(createdRaw)
	w.UpdatedAt = parseTS(updatedRaw)
	return w, nil
}

// scanTicket decodes one ticket row.
func scanTicket(s scanner) (domain.Ticket, error) {
	var (
		t           domain.Ticket
		priorityRaw string
		createdRaw  string
		updatedRaw  string
		workflowID  sql.NullString
		snapshotRaw sql.NullString
		version     sql.NullInt64
	)
	if err := s.Scan(
		&t.ID,
		&t.TenantID,
		&t.Title,
		&t.Description,
		&priorityRaw,
		&t.AssigneeID,
		&t.Status,
		&t.CreatedBy,
		&createdRaw,
		&updatedRaw,
		&workflowID,
		&snapshotRaw,
		&version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, app.ErrNotFound
		}
		return domain.Ticket{}, err
	}
	t.Priority = domain.Priority(priorityRaw)
	t.CreatedAt = parseTS(createdRaw)
	t.UpdatedAt = parseTS(updatedRaw)
	t.WorkflowID = strings.TrimSpace(workflowID.String)
	if version.Valid {
		t.WorkflowVersion = int(version.Int64)
	}
	if snapshotRaw.Valid && strings.TrimSpace(snapshotRaw.String) != "" {
		var snap domain.WorkflowSnapshot
		if err := json.Unmarshal([]byte(snapshotRaw.String), &snap); err != nil {
			return domain.Ticket{}, fmt.Errorf("decode tickets.workflow_snapshot_json: %w", err)
		}
		t.WorkflowSnapshot = &snap
	}
	return t, nil
}

func encodeSnapshot(snap *domain.WorkflowSnapshot) (any, error) {
	if snap == nil {
		return nil, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode workflow snapshot: %w", err)
	}
	return string(raw), nil
}

// translateNoRows handles translate no rows.
// rowQueryer is satisfied by *sql.DB and *sql.Tx.
type rowQueryer interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// missingOr runs an existence query after an update matched no rows. A missing
// row yields app.ErrNotFound and an existing one yields conflict.
func missingOr(ctx context.Context, q rowQueryer, query string, conflict error, args ...any) error {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return app.ErrNotFound
	case err != nil:
		return err
	default:
		return conflict
	}
}

func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// normalizeEventTS fills a missing event time with the current time.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// isDuplicateColumnErr reports whether the expected condition is satisfied.
func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
