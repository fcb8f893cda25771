// internal/agent/stream.go
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// EventType discriminates stream events.
type EventType string

const (
	EventStep  EventType = "step"
	EventFinal EventType = "final"
)

// StreamMode selects how events reach the sink.
type StreamMode int

const (
	// Incremental forwards each step event as soon as its Step is recorded.
	Incremental StreamMode = iota
	// Batched holds every event until the session ends, then delivers them all with
	// full screenshot payloads.
	Batched
)

// Event is one item of a session's progress stream.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Step      *StepEvent  `json:"step,omitempty"`
	Final     *FinalEvent `json:"final,omitempty"`
}

// StepEvent is the streamed view of a recorded Step.
type StepEvent struct {
	Index          int           `json:"index"`
	Action         *Action       `json:"action"`
	Reasoning      string        `json:"reasoning,omitempty"`
	Result         ActionResult  `json:"result"`
	ParseFailure   *ParseFailure `json:"parse_failure,omitempty"`
	Attempts       int           `json:"attempts"`
	Screenshot     string        `json:"screenshot,omitempty"` // base64
	ScreenshotMIME string        `json:"screenshot_mime,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// FinalEvent carries the terminal status.
type FinalEvent struct {
	Status        SessionStatus `json:"status"`
	Summary       string        `json:"summary,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	TotalSteps    int           `json:"total_steps"`
}

// Streamer turns recorded steps into an ordered event sequence. It refuses any
// step whose index is not exactly the next one, so events are never duplicated or
// reordered, and it emits nothing after the final event.
type Streamer struct {
	sessionID   string
	mode        StreamMode
	sink        Sink
	screenshots bool

	mu       sync.Mutex
	next     int
	finished bool
	buffered []Event
}

// NewStreamer creates a streamer for one session. includeScreenshots only affects
// Incremental mode; Batched always carries them.
func NewStreamer(sessionID string, mode StreamMode, sink Sink, includeScreenshots bool) *Streamer {
	return &Streamer{
		sessionID:   sessionID,
		mode:        mode,
		sink:        sink,
		screenshots: includeScreenshots || mode == Batched,
	}
}

// StepRecorded publishes the event for a step that is already appended to its session.
func (s *Streamer) StepRecorded(ctx context.Context, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return fmt.Errorf("stream for session %s already finished", s.sessionID)
	}
	if step.Index != s.next {
		return fmt.Errorf("stream for session %s expected step %d, got %d", s.sessionID, s.next, step.Index)
	}
	s.next++

	ev := Event{Type: EventStep, SessionID: s.sessionID, Step: s.stepEvent(step)}
	if s.mode == Batched {
		s.buffered = append(s.buffered, ev)
		return nil
	}
	return s.send(ctx, ev)
}

// Finish publishes the final event, flushing buffered events first in Batched mode.
// It is a no-op after the first call.
func (s *Streamer) Finish(ctx context.Context, final FinalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil
	}
	s.finished = true

	for _, ev := range s.buffered {
		if err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	s.buffered = nil
	return s.send(ctx, Event{Type: EventFinal, SessionID: s.sessionID, Final: &final})
}

func (s *Streamer) send(ctx context.Context, ev Event) error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Send(ctx, ev)
}

func (s *Streamer) stepEvent(step Step) *StepEvent {
	return NewStepEvent(step, s.screenshots)
}

// NewStepEvent renders a recorded step for clients. The screenshot is base64
// encoded when withScreenshot is set.
func NewStepEvent(step Step, withScreenshot bool) *StepEvent {
	ev := &StepEvent{
		Index:        step.Index,
		Action:       step.Action,
		Reasoning:    step.Reasoning,
		Result:       step.Result,
		ParseFailure: step.ParseFailure,
		Attempts:     step.Attempts,
		Timestamp:    step.Timestamp,
	}
	if withScreenshot && !step.Screenshot.Empty() {
		ev.Screenshot = base64.StdEncoding.EncodeToString(step.Screenshot.Data)
		ev.ScreenshotMIME = step.Screenshot.MIMEType
	}
	return ev
}

// ChannelSink delivers events over a channel, for SSE and WebSocket consumers.
type ChannelSink struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewChannelSink creates a sink with the given channel buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Send blocks until the event is taken or ctx is done.
func (c *ChannelSink) Send(ctx context.Context, ev Event) error {
	select {
	case c.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the receive side. It is closed by Close.
func (c *ChannelSink) Events() <-chan Event { return c.ch }

// Close closes the channel. Call it only after the last Send has returned.
func (c *ChannelSink) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// CollectorSink keeps every event in memory, for full-response callers and tests.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *CollectorSink) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of the collected events.
func (c *CollectorSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
