package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
)

// BlockRepository manages org_compliance_blocks. At most one open block exists per gate.
type BlockRepository struct {
	pool *pgxpool.Pool
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(pool *pgxpool.Pool) *BlockRepository {
	return &BlockRepository{pool: pool}
}

// HasOpenBlock reports whether the gate is held open for the organization
func (r *BlockRepository) HasOpenBlock(ctx context.Context, orgID string, gate models.GateKey) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM org_compliance_blocks
			WHERE organization_id = $1 AND gate_key = $2 AND resolved_at IS NULL
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, orgID, string(gate)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check open block: %w", err)
	}
	return exists, nil
}

// CreateBlock opens a block. A concurrent open block for the same gate wins silently.
func (r *BlockRepository) CreateBlock(ctx context.Context, block *models.ComplianceBlock) error {
	query := `
		INSERT INTO org_compliance_blocks (organization_id, gate_key, reason, created_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, gate_key) WHERE resolved_at IS NULL DO NOTHING`

	createdAt := block.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		block.OrgID, string(block.GateKey), block.Reason, block.CreatedBy, block.Metadata, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create compliance block: %w", err)
	}
	return nil
}

// ResolveOpenBlocks stamps resolved_at on every open block among gates and returns how many changed
func (r *BlockRepository) ResolveOpenBlocks(ctx context.Context, orgID string, gates []models.GateKey, at time.Time) (int, error) {
	if len(gates) == 0 {
		return 0, nil
	}
	keys := make([]string, len(gates))
	for i, g := range gates {
		keys[i] = string(g)
	}

	query := `
		UPDATE org_compliance_blocks SET resolved_at = $3
		WHERE organization_id = $1 AND gate_key = ANY($2) AND resolved_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, orgID, keys, at)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve compliance blocks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListOpenBlocks returns the open blocks of an organization, newest first
func (r *BlockRepository) ListOpenBlocks(ctx context.Context, orgID string) ([]models.ComplianceBlock, error) {
	query := `
		SELECT id, organization_id, gate_key, reason, created_by, metadata, created_at, resolved_at
		FROM org_compliance_blocks
		WHERE organization_id = $1 AND resolved_at IS NULL
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.ComplianceBlock
	for rows.Next() {
		var b models.ComplianceBlock
		var gate string
		var createdBy pgtype.Text
		var resolvedAt pgtype.Timestamptz
		if err := rows.Scan(&b.ID, &b.OrgID, &gate, &b.Reason, &createdBy, &b.Metadata, &b.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan compliance block row: %w", err)
		}
		b.GateKey = models.GateKey(gate)
		b.CreatedBy = textPtr(createdBy)
		b.ResolvedAt = timestamptzToTimePtr(resolvedAt)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
