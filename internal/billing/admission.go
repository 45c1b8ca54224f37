package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prismstudio/backend/internal/models"
	"github.com/prismstudio/backend/internal/workspace"
)

// ErrForbidden is returned when the caller has no membership on the workspace.
var ErrForbidden = errors.New("caller is not a workspace member")

// ErrInvalidJobKind is returned for kinds missing from the cost table.
var ErrInvalidJobKind = errors.New("unknown job kind")

// ErrInsufficientCredits is surfaced distinctly so callers can prompt for a
// top-up rather than show a generic failure.
var ErrInsufficientCredits = workspace.ErrInsufficientCredits

// WorkspaceStore is the minimal workspace interface admission needs.
type WorkspaceStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	IsMember(ctx context.Context, workspaceID, accountID uuid.UUID) (bool, error)
	DebitIfSufficientTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
}

// JobStore is the minimal job interface admission needs.
type JobStore interface {
	GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (*models.Job, error)
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
}

// EntryStore appends the charge entry inside the admission transaction.
type EntryStore interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// EnqueueTxFunc enqueues the generation job within the given transaction.
// Provided by main as a closure over river.Client.InsertTx, so the queue row
// commits or rolls back with the debit and the job row.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, job *models.Job) error

// Admission performs the atomic check-balance-and-charge operation that
// creates a job. Debit, job row, charge entry, and queue insert are one
// all-or-nothing unit of work.
type Admission struct {
	workspaces WorkspaceStore
	jobs       JobStore
	entries    EntryStore
	enqueue    EnqueueTxFunc
}

func NewAdmission(workspaces WorkspaceStore, jobs JobStore, entries EntryStore, enqueue EnqueueTxFunc) *Admission {
	return &Admission{workspaces: workspaces, jobs: jobs, entries: entries, enqueue: enqueue}
}

// Admit validates membership, deduplicates by idempotency key, and charges
// the workspace for a new job. wasDuplicate is true when the key matched an
// existing job, in which case nothing was mutated and the original job is
// returned.
func (a *Admission) Admit(ctx context.Context, workspaceID, callerID uuid.UUID, kind, idempotencyKey string, projectID *uuid.UUID, payload json.RawMessage) (job *models.Job, wasDuplicate bool, err error) {
	ok, err := a.workspaces.IsMember(ctx, workspaceID, callerID)
	if err != nil {
		return nil, false, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, false, ErrForbidden
	}

	// Retried admissions are always free: the key lookup runs before any
	// charge logic.
	existing, err := a.jobs.GetByIdempotencyKey(ctx, workspaceID, idempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	cost, ok := models.JobKindCosts[kind]
	if !ok {
		return nil, false, ErrInvalidJobKind
	}

	tx, err := a.workspaces.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if cost > 0 {
		if err := a.workspaces.DebitIfSufficientTx(ctx, tx, workspaceID, cost); err != nil {
			return nil, false, err
		}
	}

	j := &models.Job{
		WorkspaceID:    workspaceID,
		ProjectID:      projectID,
		Kind:           kind,
		Status:         models.JobStatusQueued,
		IdempotencyKey: idempotencyKey,
		InputPayload:   payload,
	}
	if err := a.jobs.CreateTx(ctx, tx, j); err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent admit with the same key. Roll
			// back our debit and return the winner's job.
			_ = tx.Rollback(ctx)
			winner, ferr := a.jobs.GetByIdempotencyKey(ctx, workspaceID, idempotencyKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("fetch duplicate job: %w", ferr)
			}
			if winner == nil {
				return nil, false, fmt.Errorf("duplicate key but job not found: %w", err)
			}
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	if cost > 0 {
		if err := a.entries.AppendTx(ctx, tx, &models.LedgerEntry{
			WorkspaceID: workspaceID,
			JobID:       &j.ID,
			ProjectID:   projectID,
			EntryType:   models.LedgerEntryCharge,
			Delta:       -cost,
			Reason:      kind + " job",
		}); err != nil {
			return nil, false, fmt.Errorf("append charge entry: %w", err)
		}
	}

	if err := a.enqueue(ctx, tx, j); err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return j, false, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
