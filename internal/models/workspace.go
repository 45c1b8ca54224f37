package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership roles on a workspace.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Workspace is the billing-scoped entity: it owns the credit balance and all jobs.
// The balance is mutated only through single conditional SQL statements; the
// repository never reads it into memory to write it back.
type Workspace struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type WorkspaceMember struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
