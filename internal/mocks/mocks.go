// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// -- Actuator Mock --

// MockActuator mocks the agent.Actuator interface.
type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Open(ctx context.Context, startURL string) error {
	return m.Called(ctx, startURL).Error(0)
}

func (m *MockActuator) Capture(ctx context.Context) (agent.Screenshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(agent.Screenshot), args.Error(1)
}

func (m *MockActuator) Execute(ctx context.Context, action agent.Action) error {
	return m.Called(ctx, action).Error(0)
}

func (m *MockActuator) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockActuatorFactory mocks the agent.ActuatorFactory interface.
type MockActuatorFactory struct {
	mock.Mock
}

func (m *MockActuatorFactory) NewActuator(ctx context.Context) (agent.Actuator, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) agent.Actuator); ok {
		return fn(ctx), args.Error(1)
	}
	if a, ok := args.Get(0).(agent.Actuator); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

// -- Reasoner Mock --

// MockReasoner mocks the agent.Reasoner interface.
type MockReasoner struct {
	mock.Mock
}

// Infer provides a mock function for reasoning calls. A cancelled context short
// circuits before the expectation is consulted, like a real network client.
func (m *MockReasoner) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockReasoner) Model() string {
	return m.Called().String(0)
}

// -- Scripted Reasoner --

// ScriptedReasoner replays canned responses in order and then repeats the last
// one forever. It records every request it receives.
type ScriptedReasoner struct {
	ModelName string
	Responses []string

	mu       sync.Mutex
	requests []agent.InferenceRequest
}

// NewScriptedReasoner creates a reasoner that answers with responses in order.
func NewScriptedReasoner(responses ...string) *ScriptedReasoner {
	return &ScriptedReasoner{ModelName: "scripted-model", Responses: responses}
}

func (s *ScriptedReasoner) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.Responses) == 0 {
		return "", nil
	}
	i := len(s.requests) - 1
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	return s.Responses[i], nil
}

func (s *ScriptedReasoner) Model() string { return s.ModelName }

// Requests returns a copy of every request received so far.
func (s *ScriptedReasoner) Requests() []agent.InferenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.InferenceRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// -- Fake Actuator --

// FakeScreenshot is the image every FakeActuator capture returns.
var FakeScreenshot = agent.Screenshot{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, MIMEType: "image/jpeg", Width: 1280, Height: 720}

// FakeActuator is an in-memory browser that accepts every action. It is safe for
// concurrent use.
type FakeActuator struct {
	mu       sync.Mutex
	opened   string
	actions  []agent.Action
	closes   int
	captures int
}

func (f *FakeActuator) Open(ctx context.Context, startURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = startURL
	return nil
}

func (f *FakeActuator) Capture(ctx context.Context) (agent.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return agent.Screenshot{}, &agent.CaptureError{Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return FakeScreenshot, nil
}

func (f *FakeActuator) Execute(ctx context.Context, action agent.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *FakeActuator) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Actions returns the executed actions in order.
func (f *FakeActuator) Actions() []agent.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Action(nil), f.actions...)
}

// Closes returns how many times Close was called.
func (f *FakeActuator) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// OpenedURL returns the URL passed to Open.
func (f *FakeActuator) OpenedURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// FakeActuatorFactory hands out a new FakeActuator per session and remembers them.
type FakeActuatorFactory struct {
	mu        sync.Mutex
	actuators []*FakeActuator
}

func (f *FakeActuatorFactory) NewActuator(ctx context.Context) (agent.Actuator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := &FakeActuator{}
	f.mu.Lock()
	f.actuators = append(f.actuators, a)
	f.mu.Unlock()
	return a, nil
}

// Actuators returns every actuator created so far.
func (f *FakeActuatorFactory) Actuators() []*FakeActuator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeActuator(nil), f.actuators...)
}
