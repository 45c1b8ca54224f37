package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/prismstudio/backend/internal/models"
	"github.com/prismstudio/backend/internal/safety"
)

type GenerateAssetArgs struct {
	JobID   uuid.UUID       `json:"job_id"`
	JobKind string          `json:"kind"`
	Prompt  string          `json:"prompt"`
	Payload json.RawMessage `json:"payload"`
}

func (GenerateAssetArgs) Kind() string { return "generate_asset" }

// ArgsFromJob builds worker args from an admitted job, pulling the prompt out
// of the input payload for the safety gate.
func ArgsFromJob(j *models.Job) GenerateAssetArgs {
	var input struct {
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(j.InputPayload, &input)
	return GenerateAssetArgs{
		JobID:   j.ID,
		JobKind: j.Kind,
		Prompt:  input.Prompt,
		Payload: j.InputPayload,
	}
}

// JobService is the contract the worker drives the job state machine through.
type JobService interface {
	MarkRunning(ctx context.Context, jobID uuid.UUID) (claimed bool, err error)
	RecordSuccess(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error
	RecordFailure(ctx context.Context, jobID uuid.UUID, errPayload json.RawMessage) error
	RecordBlocked(ctx context.Context, jobID uuid.UUID, verdict models.SafetyVerdict) error
}

// GenerateAssetWorker executes one paid job: claim it, run the safety gate,
// call the provider, and record the terminal state. Delivery is at-least-once;
// every state write it makes is safe to repeat, and the charge happened at
// admission so no monetary state is touched until completion.
type GenerateAssetWorker struct {
	river.WorkerDefaults[GenerateAssetArgs]
	jobService  JobService
	providerURL string
	httpClient  *http.Client
}

func NewGenerateAssetWorker(js JobService, providerURL string) *GenerateAssetWorker {
	return &GenerateAssetWorker{
		jobService:  js,
		providerURL: providerURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (w *GenerateAssetWorker) Work(ctx context.Context, job *river.Job[GenerateAssetArgs]) error {
	args := job.Args

	claimed, err := w.jobService.MarkRunning(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !claimed {
		// Redelivered after the job already reached a terminal state.
		return nil
	}

	verdict := safety.Evaluate(args.Prompt)
	if verdict.Blocked {
		return w.jobService.RecordBlocked(ctx, args.JobID, verdict)
	}

	body, err := json.Marshal(map[string]any{
		"job_id":  args.JobID,
		"kind":    args.JobKind,
		"prompt":  args.Prompt,
		"payload": args.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.providerURL, bytes.NewReader(body))
	if err != nil {
		return w.failJob(ctx, args.JobID, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		// Network errors are returned so River redelivers; the claim and any
		// later terminal write tolerate the repeat.
		return fmt.Errorf("network error calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.failJob(ctx, args.JobID, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return w.failJob(ctx, args.JobID, "provider returned invalid JSON")
	}

	if err := w.jobService.RecordSuccess(ctx, args.JobID, result); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

func (w *GenerateAssetWorker) failJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	errPayload, _ := json.Marshal(map[string]string{"error": reason})
	if err := w.jobService.RecordFailure(ctx, jobID, errPayload); err != nil {
		return fmt.Errorf("provider failed (%s) and failure could not be recorded: %w", reason, err)
	}
	return nil
}
