// internal/agent/interfaces.go
package agent

import (
	"context"
)

// Actuator is everything the loop needs from a browser. One Actuator belongs to
// exactly one session.
type Actuator interface {
	// Open loads the start URL. Failures are *ExecutionError.
	Open(ctx context.Context, startURL string) error
	// Capture screenshots the current viewport. Failures are *CaptureError.
	Capture(ctx context.Context) (Screenshot, error)
	// Execute performs any action except done. Failures are *ExecutionError.
	Execute(ctx context.Context, action Action) error
	// Close releases the browser. The orchestrator calls it exactly once.
	Close(ctx context.Context) error
}

// ActuatorFactory launches a fresh, isolated Actuator for a new session.
type ActuatorFactory interface {
	NewActuator(ctx context.Context) (Actuator, error)
}

// InferenceRequest is the input to one reasoning call.
type InferenceRequest struct {
	Goal       string
	Screenshot Screenshot
	History    HistoryDigest
	StepIndex  int
	MaxSteps   int
}

// Reasoner is the vision-reasoning collaborator. It returns the model's raw text;
// the loop never trusts its structure. Failures are *ReasoningError.
type Reasoner interface {
	Infer(ctx context.Context, req InferenceRequest) (string, error)
	// Model identifies the model in use, reported by the health endpoint.
	Model() string
}

// Sink receives stream events in order. Send must honor ctx.
type Sink interface {
	Send(ctx context.Context, event Event) error
}
