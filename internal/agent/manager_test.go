package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/mocks"
)

// blockingReasoner holds every inference until ctx ends.
func blockingReasoner() agent.Reasoner {
	return funcReasoner(func(ctx context.Context, _ agent.InferenceRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

// freshFactory hands out a new succeeding actuator per session.
func freshFactory() *mocks.MockActuatorFactory {
	f := new(mocks.MockActuatorFactory)
	f.On("NewActuator", mock.Anything).Return(func(context.Context) agent.Actuator {
		act := newActuator()
		act.On("Execute", mock.Anything, mock.Anything).Return(nil)
		return act
	}, nil)
	return f
}

func newManager(t *testing.T, reasoner agent.Reasoner, maxSessions int) *agent.Manager {
	t.Helper()
	cfg := testLoopConfig()
	cfg.StepTimeout = 5 * time.Second
	o := newOrchestratorWithLogger(t, freshFactory(), reasoner, cfg, zaptest.NewLogger(t))
	return agent.NewManager(o, maxSessions, zaptest.NewLogger(t))
}

func TestRunRequest_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		req     agent.RunRequest
		wantURL string
		wantErr bool
	}{
		{name: "defaults url", req: agent.RunRequest{Goal: "  find docs "}, wantURL: "https://www.google.com"},
		{name: "keeps url", req: agent.RunRequest{Goal: "g", StartURL: " https://example.com "}, wantURL: "https://example.com"},
		{name: "empty goal", req: agent.RunRequest{Goal: "   "}, wantErr: true},
		{name: "bad url", req: agent.RunRequest{Goal: "g", StartURL: "ftp://example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Normalize("https://www.google.com")
			if tt.wantErr {
				assert.ErrorIs(t, err, agent.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got.StartURL)
			assert.NotEqual(t, ' ', got.Goal[0])
		})
	}
}

func TestManager_RunToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newManager(t, mocks.NewScriptedReasoner(clickJSON, doneJSON), 2)
	sink := &agent.CollectorSink{}

	final, err := m.Run(context.Background(), agent.RunRequest{Goal: "find it", StartURL: "https://example.com"},
		agent.RunOptions{Mode: agent.Incremental, Sink: sink})
	require.NoError(t, err)

	assert.Equal(t, agent.StatusSucceeded, final.Status)
	assert.Len(t, final.Steps, 2)
	assert.Len(t, sink.Events(), 3)

	got, err := m.Get(final.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSucceeded, got.Status, "finished sessions stay queryable")
	assert.Zero(t, m.Active())
	assert.Equal(t, "scripted-model", m.Model())
}

func TestManager_CancelRunningSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newManager(t, blockingReasoner(), 2)
	sess, err := m.Start(context.Background(), agent.RunRequest{Goal: "wait forever", StartURL: "https://example.com"}, agent.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	require.NoError(t, m.Cancel(sess.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, sess.ID))

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusFailed, got.Status)
	assert.Equal(t, agent.FailureReasonCancelled, got.FailureReason)
	assert.NoError(t, m.Cancel(sess.ID), "cancelling a finished session is a no-op")
}

func TestManager_LimitsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newManager(t, blockingReasoner(), 1)
	req := agent.RunRequest{Goal: "g", StartURL: "https://example.com"}

	_, err := m.Start(context.Background(), req, agent.RunOptions{})
	require.NoError(t, err)

	_, err = m.Start(context.Background(), req, agent.RunOptions{})
	assert.ErrorIs(t, err, agent.ErrTooManySessions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.Start(context.Background(), req, agent.RunOptions{})
	assert.ErrorIs(t, err, agent.ErrShuttingDown)
}

func TestManager_UnknownSession(t *testing.T) {
	m := newManager(t, mocks.NewScriptedReasoner(doneJSON), 1)

	_, err := m.Get("nope")
	assert.True(t, errors.Is(err, agent.ErrSessionNotFound))
	assert.ErrorIs(t, m.Cancel("nope"), agent.ErrSessionNotFound)
	assert.NoError(t, m.Wait(context.Background(), "nope"))
}

func TestManager_ParentContextCancelsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newManager(t, blockingReasoner(), 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *agent.Session, 1)
	go func() {
		final, err := m.Run(ctx, agent.RunRequest{Goal: "g", StartURL: "https://example.com"}, agent.RunOptions{})
		assert.NoError(t, err)
		done <- final
	}()

	require.Eventually(t, func() bool { return m.Active() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case final := <-done:
		assert.Equal(t, agent.StatusFailed, final.Status)
		assert.Equal(t, agent.FailureReasonCancelled, final.FailureReason)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after its parent context was cancelled")
	}
}
