package api

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/mocks"
	"github.com/xkilldash9x/navigator/internal/observability"
)

const (
	doneJSON  = `{"action":"done","summary":"found it"}`
	clickJSON = `{"action":"click","x":100,"y":200}`
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// funcReasoner adapts a function to agent.Reasoner.
type funcReasoner func(ctx context.Context, req agent.InferenceRequest) (string, error)

func (f funcReasoner) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	return f(ctx, req)
}

func (funcReasoner) Model() string { return "func-model" }

// blockingReasoner holds every inference until ctx ends.
func blockingReasoner() agent.Reasoner {
	return funcReasoner(func(ctx context.Context, _ agent.InferenceRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		MaxSteps:    5,
		StepTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
		HistoryWindow:      3,
		HistoryEntryMaxLen: 120,
		TeardownTimeout:    time.Second,
	}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		MaxSessions:     2,
		DefaultStartURL: "https://example.com",
		ShutdownTimeout: time.Second,
	}
}

type harness struct {
	manager *agent.Manager
	factory *mocks.FakeActuatorFactory
	metrics *observability.Metrics
	server  *httptest.Server
}

// newHarness serves a real session manager over httptest. Sessions and the server
// are torn down when the test ends.
func newHarness(t *testing.T, reasoner agent.Reasoner, cfg config.ServerConfig) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	factory := &mocks.FakeActuatorFactory{}
	metrics := observability.NewMetrics(nil)

	o, err := agent.NewOrchestrator(factory, reasoner, testLoopConfig(), logger, metrics)
	require.NoError(t, err)
	m := agent.NewManager(o, cfg.MaxSessions, logger)

	srv := httptest.NewServer(NewServer(cfg, m, metrics, logger).Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		srv.Close()
	})
	return &harness{manager: m, factory: factory, metrics: metrics, server: srv}
}

func (h *harness) post(t *testing.T, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.server.Client().Get(h.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// readSSE parses a text/event-stream body into events, checking that each
// event line names the same type as its payload.
func readSSE(t *testing.T, body io.Reader) []agent.Event {
	t.Helper()
	var (
		events []agent.Event
		name   string
	)
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev agent.Event
			require.NoError(t, jsonAPI.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			require.Equal(t, name, string(ev.Type))
			events = append(events, ev)
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func decodeJSON(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, jsonAPI.Unmarshal(bytes.TrimSpace(data), v), string(data))
}

// waitForStatus polls GET /sessions/{id} until the session leaves running.
func waitForStatus(t *testing.T, h *harness, id string) SessionView {
	t.Helper()
	var view SessionView
	require.Eventually(t, func() bool {
		resp, err := h.server.Client().Get(h.server.URL + "/sessions/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		view = SessionView{}
		data, err := io.ReadAll(resp.Body)
		if err != nil || jsonAPI.Unmarshal(data, &view) != nil {
			return false
		}
		return view.Status != agent.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	return view
}
