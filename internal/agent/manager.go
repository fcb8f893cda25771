// internal/agent/manager.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// defaultRetainFinished is how many finished sessions stay queryable.
const defaultRetainFinished = 256

// RunRequest asks for a new session.
type RunRequest struct {
	Goal     string `json:"goal"`
	StartURL string `json:"start_url"`
}

// Normalize trims the request, applies defaultURL when StartURL is empty and
// validates it. Errors wrap ErrInvalidRequest.
func (r RunRequest) Normalize(defaultURL string) (RunRequest, error) {
	r.Goal = strings.TrimSpace(r.Goal)
	r.StartURL = strings.TrimSpace(r.StartURL)
	if r.Goal == "" {
		return r, fmt.Errorf("%w: goal must not be empty", ErrInvalidRequest)
	}
	if r.StartURL == "" {
		r.StartURL = defaultURL
	}
	if err := ValidateURL(r.StartURL); err != nil {
		return r, fmt.Errorf("%w: start_url %q: %v", ErrInvalidRequest, r.StartURL, err)
	}
	return r, nil
}

// RunOptions controls how a session's progress is streamed.
type RunOptions struct {
	Mode        StreamMode
	Sink        Sink
	Screenshots bool
}

type handle struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager is the in-memory registry of sessions. It caps how many run at once,
// lets callers look sessions up and cancel them, and tears everything down on
// shutdown.
type Manager struct {
	orchestrator *Orchestrator
	sem          *semaphore.Weighted
	logger       *zap.Logger
	retain       int

	mu       sync.RWMutex
	sessions map[string]*handle
	finished []string // finished session IDs, oldest first
	closing  bool
	wg       sync.WaitGroup
}

// NewManager creates a registry that runs at most maxSessions sessions concurrently.
func NewManager(o *Orchestrator, maxSessions int, logger *zap.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Manager{
		orchestrator: o,
		sem:          semaphore.NewWeighted(int64(maxSessions)),
		logger:       logger.Named("sessions"),
		retain:       defaultRetainFinished,
		sessions:     make(map[string]*handle),
	}
}

// Model returns the reasoning model identifier.
func (m *Manager) Model() string { return m.orchestrator.Model() }

// Start launches a session in its own goroutine and returns it immediately. The
// session stops when ctx is cancelled, when Cancel is called, or on shutdown.
func (m *Manager) Start(ctx context.Context, req RunRequest, opts RunOptions) (*Session, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if !m.sem.TryAcquire(1) {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}

	sess := NewSession(uuid.NewString(), req.Goal, req.StartURL, time.Now().UTC())
	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{session: sess, cancel: cancel, done: make(chan struct{})}
	m.sessions[sess.ID] = h
	m.wg.Add(1)
	m.mu.Unlock()

	var streamer *Streamer
	if opts.Sink != nil {
		streamer = NewStreamer(sess.ID, opts.Mode, opts.Sink, opts.Screenshots)
	}

	go func() {
		defer m.wg.Done()
		defer m.sem.Release(1)
		defer close(h.done)
		defer cancel()

		m.orchestrator.Run(runCtx, sess, streamer)
		m.retire(sess.ID)
	}()

	return sess, nil
}

// Run starts a session and blocks until it is terminal, returning the final snapshot.
// Cancelling ctx cancels the session; the snapshot is still returned once teardown
// completes.
func (m *Manager) Run(ctx context.Context, req RunRequest, opts RunOptions) (*Session, error) {
	sess, err := m.Start(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	<-m.waitChan(sess.ID)
	return sess.Snapshot(), nil
}

// Get returns a snapshot of a running or recently finished session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h.session.Snapshot(), nil
}

// Cancel asks a running session to stop at its next safe point. Cancelling a
// finished session is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	h.cancel()
	return nil
}

// Wait blocks until the session's goroutine has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) error {
	ch := m.waitChan(id)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of sessions still running.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.sessions {
		select {
		case <-h.done:
		default:
			n++
		}
	}
	return n
}

// Shutdown refuses new sessions, cancels running ones and waits for their teardown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, h := range m.sessions {
		h.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions torn down.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with %d sessions active: %w", m.Active(), ctx.Err())
	}
}

func (m *Manager) waitChan(id string) <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.sessions[id]; ok {
		return h.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// retire records a finished session and evicts the oldest beyond the retention cap.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, id)
	for len(m.finished) > m.retain {
		oldest := m.finished[0]
		m.finished = m.finished[1:]
		delete(m.sessions, oldest)
	}
}
