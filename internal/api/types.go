// File: internal/api/types.go
package api

import (
	"context"
	"time"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// Sessions is what the HTTP surface needs from the session registry.
type Sessions interface {
	Start(ctx context.Context, req agent.RunRequest, opts agent.RunOptions) (*agent.Session, error)
	Run(ctx context.Context, req agent.RunRequest, opts agent.RunOptions) (*agent.Session, error)
	Get(id string) (*agent.Session, error)
	Cancel(id string) error
	Model() string
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// FullRunResponse is returned by POST /run/full once the session is terminal.
type FullRunResponse struct {
	SessionID     string              `json:"session_id"`
	Goal          string              `json:"goal"`
	Status        agent.SessionStatus `json:"status"`
	Summary       string              `json:"summary,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Steps         []*agent.StepEvent  `json:"steps"`
	TotalSteps    int                 `json:"total_steps"`
}

// SessionView is the JSON shape of GET /sessions/{id}. Screenshots are omitted
// unless asked for.
type SessionView struct {
	ID            string              `json:"id"`
	Goal          string              `json:"goal"`
	StartURL      string              `json:"start_url"`
	Status        agent.SessionStatus `json:"status"`
	Summary       string              `json:"summary,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Steps         []*agent.StepEvent  `json:"steps"`
	TotalSteps    int                 `json:"total_steps"`
	CreatedAt     time.Time           `json:"created_at"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
}

// CancelResponse acknowledges POST /sessions/{id}/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}
