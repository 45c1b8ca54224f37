package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types. A (job_id, entry_type) uniqueness constraint at the
// storage layer guarantees at most one charge and one refund per job.
const (
	LedgerEntryCharge = "charge"
	LedgerEntryRefund = "refund"
	LedgerEntryGrant  = "grant"
)

// LedgerEntry is an immutable signed-delta accounting record. Rows are
// append-only: never updated, never deleted. The workspace balance equals the
// sum of all deltas for that workspace.
type LedgerEntry struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	JobID       *uuid.UUID `json:"job_id,omitempty"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	EntryType   string     `json:"entry_type"`
	Delta       int64      `json:"delta"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"created_at"`
}
