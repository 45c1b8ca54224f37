package workspace

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prismstudio/backend/internal/models"
)

// ErrInsufficientCredits is returned by DebitIfSufficientTx when the
// conditional decrement matched zero rows.
var ErrInsufficientCredits = errors.New("insufficient credits")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a workspace and the owner membership inside the caller's
// transaction. The starting balance arrives via a grant ledger entry appended
// by the caller, not here.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, name string, ownerID uuid.UUID) (*models.Workspace, error) {
	var w models.Workspace
	row := tx.QueryRow(ctx, `
		INSERT INTO workspaces (name, credit_balance)
		VALUES ($1, 0)
		RETURNING id, name, credit_balance, created_at, updated_at
	`, name)
	if err := row.Scan(&w.ID, &w.Name, &w.CreditBalance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO workspace_members (workspace_id, account_id, role)
		VALUES ($1, $2, $3)
	`, w.ID, ownerID, models.RoleOwner)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var w models.Workspace
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, credit_balance, created_at, updated_at
		FROM workspaces WHERE id = $1
	`, id)
	if err := row.Scan(&w.ID, &w.Name, &w.CreditBalance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// IsMember reports whether the account has an active membership on the workspace.
func (r *Repository) IsMember(ctx context.Context, workspaceID, accountID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND account_id = $2
		)
	`, workspaceID, accountID).Scan(&exists)
	return exists, err
}

// WorkspaceForAccount returns the first workspace the account belongs to, or
// nil when the account has none.
func (r *Repository) WorkspaceForAccount(ctx context.Context, accountID uuid.UUID) (*models.Workspace, error) {
	var w models.Workspace
	row := r.pool.QueryRow(ctx, `
		SELECT w.id, w.name, w.credit_balance, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.account_id = $1
		ORDER BY m.created_at ASC
		LIMIT 1
	`, accountID)
	err := row.Scan(&w.ID, &w.Name, &w.CreditBalance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// DebitIfSufficientTx subtracts amount from the workspace balance only if the
// balance covers it, as a single conditional statement. The WHERE clause is
// the admission balance check: concurrent debits cannot both pass against a
// stale read because the storage layer serializes the test and the write.
func (r *Repository) DebitIfSufficientTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE workspaces
		SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
	`, amount, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// CreditTx adds amount to the workspace balance unconditionally.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE workspaces
		SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
	`, amount, id)
	return err
}
