package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prismstudio/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO jobs (workspace_id, project_id, kind, status, idempotency_key, input_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, j.WorkspaceID, j.ProjectID, j.Kind, j.Status, j.IdempotencyKey, j.InputPayload)
	return row.Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return r.scanOne(r.pool.QueryRow(ctx, selectJob+` WHERE id = $1`, id))
}

// GetByIdempotencyKey returns the job admitted under (workspaceID, key), or
// nil when the key is unused.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (*models.Job, error) {
	j, err := r.scanOne(r.pool.QueryRow(ctx, selectJob+` WHERE workspace_id = $1 AND idempotency_key = $2`, workspaceID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

const selectJob = `
	SELECT id, workspace_id, project_id, kind, status, idempotency_key,
		input_payload, result_payload, error_payload, created_at, updated_at
	FROM jobs`

func (r *Repository) scanOne(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.WorkspaceID, &j.ProjectID, &j.Kind, &j.Status, &j.IdempotencyKey,
		&j.InputPayload, &j.ResultPayload, &j.ErrorPayload, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, selectJob+` WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		var j models.Job
		err := rows.Scan(&j.ID, &j.WorkspaceID, &j.ProjectID, &j.Kind, &j.Status, &j.IdempotencyKey,
			&j.InputPayload, &j.ResultPayload, &j.ErrorPayload, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// MarkRunning claims the job for execution. The guard keeps redelivered work
// from resurrecting a terminal job; repeating it on an already-running job is
// a no-op claim.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) (claimed bool, err error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'running', updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkSucceededTx transitions running -> succeeded inside the caller's
// transaction so the asset row commits with it. Returns false when the job
// was not running (already terminal), in which case nothing changed.
func (r *Repository) MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, result json.RawMessage) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'succeeded', result_payload = $2, updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, result)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTerminal transitions a non-terminal job to failed or blocked. Returns
// false when the job had already reached a terminal state.
func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, status string, errPayload json.RawMessage) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_payload = $3, updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, status, errPayload)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// InsertAssetTx records a produced asset. One asset per job (unique job_id);
// the caller treats a violation as already-recorded.
func (r *Repository) InsertAssetTx(ctx context.Context, tx pgx.Tx, a *models.Asset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO assets (id, job_id, workspace_id, kind, uri, signature)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.JobID, a.WorkspaceID, a.Kind, a.URI, a.Signature).Scan(&a.CreatedAt)
}

func (r *Repository) GetAssetByJobID(ctx context.Context, jobID uuid.UUID) (*models.Asset, error) {
	var a models.Asset
	row := r.pool.QueryRow(ctx, `
		SELECT id, job_id, workspace_id, kind, uri, signature, created_at
		FROM assets WHERE job_id = $1
	`, jobID)
	err := row.Scan(&a.ID, &a.JobID, &a.WorkspaceID, &a.Kind, &a.URI, &a.Signature, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertSafetyAudit records why a job was blocked.
func (r *Repository) InsertSafetyAudit(ctx context.Context, jobID uuid.UUID, v models.SafetyVerdict) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO safety_audit (job_id, category, reason, warnings)
		VALUES ($1, $2, $3, $4)
	`, jobID, v.Category, v.Reason, v.Warnings)
	return err
}
