package ledger

import (
	"context"
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

// AppendTx inserts one immutable entry inside the caller's transaction. The
// (job_id, entry_type) unique constraint makes a second charge or refund for
// the same job fail at the storage layer regardless of what the caller
// pre-checked.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, workspace_id, job_id, project_id, entry_type, delta, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.WorkspaceID, e.JobID, e.ProjectID, e.EntryType, e.Delta, e.Reason).Scan(&e.CreatedAt)
}

// FindEntry returns the entry of the given type tied to a job, or nil if none
// exists.
func (r *Repository) FindEntry(ctx context.Context, jobID uuid.UUID, entryType string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	row := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, job_id, project_id, entry_type, delta, reason, created_at
		FROM ledger_entries WHERE job_id = $1 AND entry_type = $2
	`, jobID, entryType)
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.JobID, &e.ProjectID, &e.EntryType, &e.Delta, &e.Reason, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SumDeltas totals every delta for a workspace. Reconciliation only; the
// cached workspace balance is authoritative on the admission path.
func (r *Repository) SumDeltas(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE workspace_id = $1
	`, workspaceID).Scan(&sum)
	return sum, err
}

// ListByWorkspace returns entries in append order, with id as the tiebreaker
// for entries sharing a timestamp. projectID narrows the list to one scope
// when non-nil.
func (r *Repository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, workspace_id, job_id, project_id, entry_type, delta, reason, created_at
		FROM ledger_entries WHERE workspace_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{workspaceID}
	if projectID != nil {
		query = `
		SELECT id, workspace_id, job_id, project_id, entry_type, delta, reason, created_at
		FROM ledger_entries WHERE workspace_id = $1 AND project_id = $2 ORDER BY created_at ASC, id ASC`
		args = append(args, *projectID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.JobID, &e.ProjectID, &e.EntryType, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
