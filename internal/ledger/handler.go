package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/prismstudio/backend/internal/middleware"
	"github.com/prismstudio/backend/internal/models"
)

// WorkspaceReader resolves workspaces and memberships for the read API.
type WorkspaceReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	IsMember(ctx context.Context, workspaceID, accountID uuid.UUID) (bool, error)
	WorkspaceForAccount(ctx context.Context, accountID uuid.UUID) (*models.Workspace, error)
}

type BalanceResponse struct {
	WorkspaceID   string `json:"workspace_id"`
	CreditBalance int64  `json:"credit_balance"`
	// LedgerSum is the recomputed sum of all entry deltas, present only when
	// the caller asked for an audit. It must equal CreditBalance.
	LedgerSum *int64 `json:"ledger_sum,omitempty"`
}

type Handler struct {
	svc        Service
	workspaces WorkspaceReader
	log        *slog.Logger
}

func NewHandler(svc Service, workspaces WorkspaceReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, workspaces: workspaces, log: log}
}

// GetBalance handles GET /api/v1/workspace/balance?workspace_id=&audit=.
// workspace_id defaults to the caller's own workspace. The cached balance is
// returned; audit=true additionally recomputes the ledger sum so a mismatch
// is visible to operators.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var ws *models.Workspace
	if raw := r.URL.Query().Get("workspace_id"); raw != "" {
		workspaceID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid workspace_id"}`, http.StatusBadRequest)
			return
		}
		member, err := h.workspaces.IsMember(r.Context(), workspaceID, callerID)
		if err != nil {
			h.log.Error("membership check", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, `{"error":"not a workspace member"}`, http.StatusForbidden)
			return
		}
		ws, err = h.workspaces.GetByID(r.Context(), workspaceID)
		if err != nil {
			h.log.Error("get workspace", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	} else {
		var err error
		ws, err = h.workspaces.WorkspaceForAccount(r.Context(), callerID)
		if err != nil {
			h.log.Error("resolve workspace", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if ws == nil {
			http.Error(w, `{"error":"no workspace"}`, http.StatusNotFound)
			return
		}
	}

	resp := BalanceResponse{
		WorkspaceID:   ws.ID.String(),
		CreditBalance: ws.CreditBalance,
	}
	if r.URL.Query().Get("audit") == "true" {
		sum, err := h.svc.SumDeltas(r.Context(), ws.ID)
		if err != nil {
			h.log.Error("ledger sum", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		resp.LedgerSum = &sum
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ListLedger handles GET /api/v1/ledger?workspace_id=&project_id=. Entries
// come back in append order; project_id narrows to one scope.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var projectID *uuid.UUID
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid project_id"}`, http.StatusBadRequest)
			return
		}
		projectID = &id
	}
	entries, err := h.svc.ListLedger(r.Context(), workspaceID, projectID)
	if err != nil {
		h.log.Error("list ledger", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// authorize extracts the caller and workspace and checks membership.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	workspaceID, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		http.Error(w, `{"error":"workspace_id is required"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	member, err := h.workspaces.IsMember(r.Context(), workspaceID, callerID)
	if err != nil {
		h.log.Error("membership check", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return uuid.Nil, false
	}
	if !member {
		http.Error(w, `{"error":"not a workspace member"}`, http.StatusForbidden)
		return uuid.Nil, false
	}
	return workspaceID, true
}
