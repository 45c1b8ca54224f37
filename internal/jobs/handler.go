package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prismstudio/backend/internal/billing"
	"github.com/prismstudio/backend/internal/middleware"
	"github.com/prismstudio/backend/internal/models"
)

// Admitter is the admission controller contract the handler calls.
type Admitter interface {
	Admit(ctx context.Context, workspaceID, callerID uuid.UUID, kind, idempotencyKey string, projectID *uuid.UUID, payload json.RawMessage) (*models.Job, bool, error)
}

// InputValidator checks the input payload against the kind's schema.
type InputValidator interface {
	Validate(kind string, payload json.RawMessage) error
}

// MemberChecker guards read endpoints.
type MemberChecker interface {
	IsMember(ctx context.Context, workspaceID, accountID uuid.UUID) (bool, error)
}

type CreateJobRequest struct {
	WorkspaceID    uuid.UUID       `json:"workspace_id"`
	ProjectID      *uuid.UUID      `json:"project_id,omitempty"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Input          json.RawMessage `json:"input"`
}

type JobResponse struct {
	*models.Job
	WasDuplicate bool `json:"was_duplicate"`
}

type Handler struct {
	admission Admitter
	svc       Service
	validator InputValidator
	members   MemberChecker
	log       *slog.Logger
}

func NewHandler(admission Admitter, svc Service, validator InputValidator, members MemberChecker, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{admission: admission, svc: svc, validator: validator, members: members, log: log}
}

// CreateJob handles POST /api/v1/jobs: validate, then admit. Insufficient
// credits and unknown kinds are distinct, actionable statuses; a duplicate
// idempotency key is never an error.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == uuid.Nil || req.Kind == "" || req.IdempotencyKey == "" {
		http.Error(w, `{"error":"workspace_id, kind and idempotency_key are required"}`, http.StatusBadRequest)
		return
	}
	if len(req.Input) == 0 {
		req.Input = json.RawMessage(`{}`)
	}
	if h.validator != nil {
		if err := h.validator.Validate(req.Kind, req.Input); err != nil {
			http.Error(w, `{"error":"invalid input payload"}`, http.StatusBadRequest)
			return
		}
	}

	job, wasDuplicate, err := h.admission.Admit(r.Context(), req.WorkspaceID, callerID, req.Kind, req.IdempotencyKey, req.ProjectID, req.Input)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrForbidden):
			http.Error(w, `{"error":"not a workspace member"}`, http.StatusForbidden)
		case errors.Is(err, billing.ErrInvalidJobKind):
			http.Error(w, `{"error":"unknown job kind"}`, http.StatusBadRequest)
		case errors.Is(err, billing.ErrInsufficientCredits):
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("admit failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if wasDuplicate {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	_ = json.NewEncoder(w).Encode(JobResponse{Job: job, WasDuplicate: wasDuplicate})
}

// GetJob handles GET /api/v1/jobs/{id} for status polling.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get job", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	ok, err := h.members.IsMember(r.Context(), job.WorkspaceID, callerID)
	if err != nil || !ok {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

// GetJobAsset handles GET /api/v1/jobs/{id}/asset: the generated artifact and
// its mint proof. 404 covers unknown jobs, non-members and jobs that have not
// succeeded yet.
func (h *Handler) GetJobAsset(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get job", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	ok, err := h.members.IsMember(r.Context(), job.WorkspaceID, callerID)
	if err != nil || !ok {
		http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
		return
	}
	if !job.Terminal() {
		http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
		return
	}
	asset, err := h.svc.GetAsset(r.Context(), jobID)
	if err != nil {
		h.log.Error("get asset", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if asset == nil {
		http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(asset)
}

// ListJobs handles GET /api/v1/jobs?workspace_id=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.CallerFromCtx(r.Context())
	if callerID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	workspaceID, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		http.Error(w, `{"error":"workspace_id is required"}`, http.StatusBadRequest)
		return
	}
	ok, err := h.members.IsMember(r.Context(), workspaceID, callerID)
	if err != nil {
		h.log.Error("membership check", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not a workspace member"}`, http.StatusForbidden)
		return
	}
	jobs, err := h.svc.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		h.log.Error("list jobs", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jobs)
}
