package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prismstudio/backend/internal/models"
)

// EntryStore is the minimal ledger row interface the service needs.
type EntryStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	FindEntry(ctx context.Context, jobID uuid.UUID, entryType string) (*models.LedgerEntry, error)
	SumDeltas(ctx context.Context, workspaceID uuid.UUID) (int64, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID) ([]*models.LedgerEntry, error)
}

// BalanceStore is the minimal workspace balance interface the service needs.
type BalanceStore interface {
	CreditTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
}

// RefundResult reports what a Refund call did. At most one of the two flags
// is ever true.
type RefundResult struct {
	Refunded        bool
	AlreadyRefunded bool
}

type Service interface {
	Refund(ctx context.Context, job *models.Job, reason string) (RefundResult, error)
	FindRefundEntry(ctx context.Context, jobID uuid.UUID) (*models.LedgerEntry, error)
	ListLedger(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID) ([]*models.LedgerEntry, error)
	SumDeltas(ctx context.Context, workspaceID uuid.UUID) (int64, error)
}

type service struct {
	entries EntryStore
	balance BalanceStore
}

func NewService(entries EntryStore, balance BalanceStore) *service {
	return &service{entries: entries, balance: balance}
}

var _ Service = (*service)(nil)

// Refund reverses a job's charge exactly once, no matter how many workers
// call it concurrently or how often the queue redelivers. The refund entry is
// inserted under the (job_id, entry_type) uniqueness guard and the balance is
// credited only when that insert committed; a rejected insert means another
// caller already won, and no balance mutation happens.
func (s *service) Refund(ctx context.Context, job *models.Job, reason string) (RefundResult, error) {
	charge, err := s.entries.FindEntry(ctx, job.ID, models.LedgerEntryCharge)
	if err != nil {
		return RefundResult{}, fmt.Errorf("find charge entry: %w", err)
	}
	if charge == nil || charge.Delta == 0 {
		// Zero-cost kinds never wrote a charge; nothing to reverse.
		return RefundResult{}, nil
	}
	amount := -charge.Delta

	tx, err := s.entries.Begin(ctx)
	if err != nil {
		return RefundResult{}, err
	}
	defer tx.Rollback(ctx)

	entry := &models.LedgerEntry{
		WorkspaceID: job.WorkspaceID,
		JobID:       &job.ID,
		ProjectID:   job.ProjectID,
		EntryType:   models.LedgerEntryRefund,
		Delta:       amount,
		Reason:      reason,
	}
	if err := s.entries.AppendTx(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return RefundResult{AlreadyRefunded: true}, nil
		}
		return RefundResult{}, fmt.Errorf("append refund entry: %w", err)
	}
	if err := s.balance.CreditTx(ctx, tx, job.WorkspaceID, amount); err != nil {
		return RefundResult{}, fmt.Errorf("credit balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{Refunded: true}, nil
}

// FindRefundEntry returns the refund entry for a job, or nil if the job has
// not been refunded.
func (s *service) FindRefundEntry(ctx context.Context, jobID uuid.UUID) (*models.LedgerEntry, error) {
	return s.entries.FindEntry(ctx, jobID, models.LedgerEntryRefund)
}

func (s *service) ListLedger(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.entries.ListByWorkspace(ctx, workspaceID, projectID)
}

func (s *service) SumDeltas(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	return s.entries.SumDeltas(ctx, workspaceID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
