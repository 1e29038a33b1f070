package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// EvidenceRepository reads control evidence and task state and writes provisioned tasks
type EvidenceRepository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(pool *pgxpool.Pool, log *logger.Logger) *EvidenceRepository {
	return &EvidenceRepository{pool: pool, logger: log.WithComponent("evidence-repository")}
}

// ListControlEvidence loads evidence links for the controls in one query.
// When control_evidence cannot be read, the legacy org_control_mappings join is tried.
func (r *EvidenceRepository) ListControlEvidence(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlEvidence, error) {
	if len(controlIDs) == 0 {
		return nil, nil
	}

	evidence, err := r.listControlEvidence(ctx, orgID, controlIDs)
	if err == nil {
		return evidence, nil
	}
	r.logger.Debug().Err(err).Msg("control_evidence unavailable, trying legacy mappings")

	legacy, legacyErr := r.listLegacyMappings(ctx, orgID, controlIDs)
	if legacyErr != nil {
		return nil, fmt.Errorf("failed to load control evidence: %w", errors.Join(err, legacyErr))
	}
	return legacy, nil
}

func (r *EvidenceRepository) listControlEvidence(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlEvidence, error) {
	query := `
		SELECT control_id, evidence_id, status, created_at, entity_id
		FROM control_evidence
		WHERE organization_id = $1 AND control_id = ANY($2)`

	rows, err := r.pool.Query(ctx, query, orgID, controlIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ControlEvidence
	for rows.Next() {
		var e models.ControlEvidence
		var evidenceID pgtype.UUID
		var status, entityID pgtype.Text
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&e.ControlID, &evidenceID, &status, &createdAt, &entityID); err != nil {
			return nil, fmt.Errorf("failed to scan control evidence row: %w", err)
		}
		e.EvidenceID = nullUUIDToPtr(evidenceID)
		e.Status = models.ParseEvidenceStatus(nullTextToString(status))
		e.CreatedAt = timestamptzToTimePtr(createdAt)
		e.EntityID = textPtr(entityID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EvidenceRepository) listLegacyMappings(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlEvidence, error) {
	query := `
		SELECT m.control_id, m.evidence_id, e.status
		FROM org_control_mappings m
		LEFT JOIN org_evidence e ON e.id = m.evidence_id
		WHERE m.organization_id = $1 AND m.control_id = ANY($2)`

	rows, err := r.pool.Query(ctx, query, orgID, controlIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ControlEvidence
	for rows.Next() {
		var e models.ControlEvidence
		var evidenceID pgtype.UUID
		var status pgtype.Text
		if err := rows.Scan(&e.ControlID, &evidenceID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan legacy mapping row: %w", err)
		}
		e.EvidenceID = nullUUIDToPtr(evidenceID)
		e.Status = models.ParseEvidenceStatus(nullTextToString(status))
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListControlTasks loads task links for the controls in one query
func (r *EvidenceRepository) ListControlTasks(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlTask, error) {
	if len(controlIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT control_id, task_id, entity_id
		FROM control_tasks
		WHERE organization_id = $1 AND control_id = ANY($2)`

	rows, err := r.pool.Query(ctx, query, orgID, controlIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list control tasks: %w", err)
	}
	defer rows.Close()

	var out []models.ControlTask
	for rows.Next() {
		var t models.ControlTask
		var entityID pgtype.Text
		if err := rows.Scan(&t.ControlID, &t.TaskID, &entityID); err != nil {
			return nil, fmt.Errorf("failed to scan control task row: %w", err)
		}
		t.EntityID = textPtr(entityID)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksByIDs loads the referenced organization tasks
func (r *EvidenceRepository) ListTasksByIDs(ctx context.Context, orgID string, taskIDs []uuid.UUID) ([]models.Task, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, organization_id, title, description, status, priority, due_at, due_date, completed_at
		FROM org_tasks
		WHERE organization_id = $1 AND id = ANY($2)`

	rows, err := r.pool.Query(ctx, query, orgID, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var t models.Task
		var description, dueDate pgtype.Text
		var dueAt, completedAt pgtype.Timestamptz
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Title, &description, &t.Status, &t.Priority, &dueAt, &dueDate, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		t.Description = textPtr(description)
		t.DueAt = timestamptzToTimePtr(dueAt)
		t.DueDate = textPtr(dueDate)
		t.CompletedAt = timestamptzToTimePtr(completedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTask inserts an organization task and returns its id
func (r *EvidenceRepository) CreateTask(ctx context.Context, task *models.Task) (uuid.UUID, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	query := `
		INSERT INTO org_tasks (id, organization_id, title, description, status, priority, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		task.ID, task.OrgID, task.Title, task.Description, task.Status, task.Priority, timeToTimestamptzPtr(task.DueAt),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}
	return id, nil
}

// LinkControlTask links a task to a control; an existing link is kept
func (r *EvidenceRepository) LinkControlTask(ctx context.Context, orgID string, controlID, taskID uuid.UUID) error {
	query := `
		INSERT INTO control_tasks (organization_id, control_id, task_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, orgID, controlID, taskID); err != nil {
		return fmt.Errorf("failed to link control task: %w", err)
	}
	return nil
}
