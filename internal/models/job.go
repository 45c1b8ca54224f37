package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. queued -> running -> {succeeded, failed, blocked}; the three
// terminal states are never left.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusBlocked   = "blocked"
)

// Job kinds and their credit costs. The table is fixed; admission rejects any
// kind not listed here.
const (
	JobKindGenImage = "gen_image"
	JobKindGenVideo = "gen_video"
	JobKindGenAudio = "gen_audio"
	JobKindRender   = "render"
)

var JobKindCosts = map[string]int64{
	JobKindGenImage: 10,
	JobKindGenVideo: 25,
	JobKindGenAudio: 5,
	JobKindRender:   15,
}

type Job struct {
	ID             uuid.UUID       `json:"id"`
	WorkspaceID    uuid.UUID       `json:"workspace_id"`
	ProjectID      *uuid.UUID      `json:"project_id,omitempty"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	InputPayload   json.RawMessage `json:"input_payload"`
	ResultPayload  json.RawMessage `json:"result_payload,omitempty"`
	ErrorPayload   json.RawMessage `json:"error_payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the job is in a state no transition leaves.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusBlocked:
		return true
	}
	return false
}
