package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset is a generated artifact produced by a succeeded job. Signature is the
// mint proof: an HMAC over (asset id, job id) that downstream collaborators
// verify instead of trusting the asset's existence. One asset per job,
// enforced by a unique constraint on job_id.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Kind        string    `json:"kind"`
	URI         string    `json:"uri"`
	Signature   string    `json:"signature"`
	CreatedAt   time.Time `json:"created_at"`
}

// SafetyVerdict is the safety gate's result. It is transient; when a job is
// blocked the verdict is persisted as a safety_audit row.
type SafetyVerdict struct {
	Blocked  bool     `json:"blocked"`
	Category string   `json:"category,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
