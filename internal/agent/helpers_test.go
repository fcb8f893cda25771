package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/mocks"
)

const (
	doneJSON  = `{"action":"done","summary":"found it"}`
	clickJSON = `{"action":"click","x":100,"y":200}`
)

var testShot = agent.Screenshot{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg", Width: 1280, Height: 720}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		MaxSteps:    5,
		StepTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
		HistoryWindow:      3,
		HistoryEntryMaxLen: 120,
		TeardownTimeout:    time.Second,
	}
}

// newActuator returns a mock actuator whose Open, Capture and Close succeed.
// Tests add Execute expectations themselves.
func newActuator() *mocks.MockActuator {
	act := new(mocks.MockActuator)
	act.On("Open", mock.Anything, mock.AnythingOfType("string")).Return(nil)
	act.On("Capture", mock.Anything).Return(testShot, nil)
	act.On("Close", mock.Anything).Return(nil)
	return act
}

func factoryFor(act agent.Actuator) *mocks.MockActuatorFactory {
	f := new(mocks.MockActuatorFactory)
	f.On("NewActuator", mock.Anything).Return(act, nil)
	return f
}

func newOrchestrator(t *testing.T, act agent.Actuator, reasoner agent.Reasoner, cfg config.LoopConfig) *agent.Orchestrator {
	t.Helper()
	return newOrchestratorWithLogger(t, factoryFor(act), reasoner, cfg, zaptest.NewLogger(t))
}

func newOrchestratorWithLogger(t *testing.T, f agent.ActuatorFactory, reasoner agent.Reasoner, cfg config.LoopConfig, logger *zap.Logger) *agent.Orchestrator {
	t.Helper()
	o, err := agent.NewOrchestrator(f, reasoner, cfg, logger, nil)
	require.NoError(t, err)
	return o
}

func newSession(goal string) *agent.Session {
	return agent.NewSession("sess-1", goal, "https://example.com", time.Now())
}

// funcReasoner adapts a function to agent.Reasoner.
type funcReasoner func(ctx context.Context, req agent.InferenceRequest) (string, error)

func (f funcReasoner) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	return f(ctx, req)
}

func (f funcReasoner) Model() string { return "func-model" }

// failingSink rejects every event after the first n.
type failingSink struct {
	mu    sync.Mutex
	after int
	seen  int
}

func (s *failingSink) Send(_ context.Context, _ agent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen++
	if s.seen > s.after {
		return context.Canceled
	}
	return nil
}

func requireContiguous(t *testing.T, steps []agent.Step) {
	t.Helper()
	for i, s := range steps {
		require.Equal(t, i, s.Index, "step indices must start at 0 with no gaps")
	}
}
