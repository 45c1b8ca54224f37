package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prismstudio/backend/internal/ledger"
	"github.com/prismstudio/backend/internal/models"
)

// Store is the job persistence interface the state machine drives.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, result json.RawMessage) (bool, error)
	MarkTerminal(ctx context.Context, id uuid.UUID, status string, errPayload json.RawMessage) (bool, error)
	InsertAssetTx(ctx context.Context, tx pgx.Tx, a *models.Asset) error
	GetAssetByJobID(ctx context.Context, jobID uuid.UUID) (*models.Asset, error)
	InsertSafetyAudit(ctx context.Context, jobID uuid.UUID, v models.SafetyVerdict) error
}

// Minter produces the keyed-hash proof tying an asset to its job.
type Minter interface {
	Sign(assetID, jobID uuid.UUID) string
}

type Service interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Job, error)
	GetAsset(ctx context.Context, jobID uuid.UUID) (*models.Asset, error)

	MarkRunning(ctx context.Context, jobID uuid.UUID) (claimed bool, err error)
	RecordSuccess(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error
	RecordFailure(ctx context.Context, jobID uuid.UUID, errPayload json.RawMessage) error
	RecordBlocked(ctx context.Context, jobID uuid.UUID, verdict models.SafetyVerdict) error
}

type service struct {
	store  Store
	ledger ledger.Service
	minter Minter
	log    *slog.Logger
}

func NewService(store Store, ledgerSvc ledger.Service, minter Minter, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, ledger: ledgerSvc, minter: minter, log: log}
}

var _ Service = (*service)(nil)

func (s *service) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetByID(ctx, id)
}

func (s *service) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListByWorkspace(ctx, workspaceID)
}

// GetAsset returns the job's asset with its mint proof, or (nil, nil) when the
// job has not succeeded yet.
func (s *service) GetAsset(ctx context.Context, jobID uuid.UUID) (*models.Asset, error) {
	return s.store.GetAssetByJobID(ctx, jobID)
}

// MarkRunning claims the job. claimed=false means the job already reached a
// terminal state (redelivered work) and the worker must not execute it.
func (s *service) MarkRunning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return s.store.MarkRunning(ctx, jobID)
}

// successResult is the slice of the provider output the state machine needs.
type successResult struct {
	URI string `json:"uri"`
}

// RecordSuccess transitions running -> succeeded and persists the asset with
// its mint proof, in one transaction. The charge stands: no ledger entry is
// ever written here. Repeat invocations on a terminal job change nothing.
func (s *service) RecordSuccess(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	moved, err := s.store.MarkSucceededTx(ctx, tx, jobID, result)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if !moved {
		return nil
	}

	var res successResult
	if err := json.Unmarshal(result, &res); err != nil {
		return fmt.Errorf("decode provider result: %w", err)
	}
	asset := &models.Asset{
		ID:          uuid.New(),
		JobID:       jobID,
		WorkspaceID: job.WorkspaceID,
		Kind:        job.Kind,
		URI:         res.URI,
	}
	asset.Signature = s.minter.Sign(asset.ID, asset.JobID)
	if err := s.store.InsertAssetTx(ctx, tx, asset); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert asset: %w", err)
	}
	return tx.Commit(ctx)
}

// RecordFailure transitions the job to failed and reverses its charge. When
// the guarded status write is rejected, the job is re-read and the refund
// runs only if it sits in a refundable terminal state: a crash between
// marking and refunding is still recovered on redelivery, but a concurrent
// success keeps its charge. The refund engine guarantees at most one
// reversal either way.
func (s *service) RecordFailure(ctx context.Context, jobID uuid.UUID, errPayload json.RawMessage) error {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status == models.JobStatusSucceeded {
		return nil
	}
	moved, err := s.store.MarkTerminal(ctx, jobID, models.JobStatusFailed, errPayload)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !moved {
		// Another worker finished the job after our read. Refund only a
		// failed or blocked job; success means the work was delivered.
		job, err = s.store.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		if job.Status != models.JobStatusFailed && job.Status != models.JobStatusBlocked {
			return nil
		}
	}
	res, err := s.ledger.Refund(ctx, job, job.Kind+" job failed")
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	s.log.Info("job failed", "job_id", jobID, "refunded", res.Refunded, "already_refunded", res.AlreadyRefunded)
	return nil
}

// RecordBlocked transitions the job to blocked, records the safety audit
// entry, and reverses the charge. A safety block is a defined terminal state,
// not an error.
func (s *service) RecordBlocked(ctx context.Context, jobID uuid.UUID, verdict models.SafetyVerdict) error {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status == models.JobStatusSucceeded {
		return nil
	}
	errPayload, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	moved, err := s.store.MarkTerminal(ctx, jobID, models.JobStatusBlocked, errPayload)
	if err != nil {
		return fmt.Errorf("mark blocked: %w", err)
	}
	if moved {
		if err := s.store.InsertSafetyAudit(ctx, jobID, verdict); err != nil {
			return fmt.Errorf("safety audit: %w", err)
		}
	} else {
		// Same rule as RecordFailure: the rejected write means another
		// worker got there first, and only a failed or blocked job refunds.
		job, err = s.store.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		if job.Status != models.JobStatusFailed && job.Status != models.JobStatusBlocked {
			return nil
		}
	}
	res, err := s.ledger.Refund(ctx, job, job.Kind+" job blocked")
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	s.log.Info("job blocked", "job_id", jobID, "category", verdict.Category, "refunded", res.Refunded)
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
