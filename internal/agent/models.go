// internal/agent/models.go
package agent

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	json "github.com/json-iterator/go"
)

// SessionStatus is the lifecycle status of a Session.
type SessionStatus string

const (
	StatusRunning         SessionStatus = "running"
	StatusSucceeded       SessionStatus = "succeeded"
	StatusFailed          SessionStatus = "failed"
	StatusMaxStepsReached SessionStatus = "max_steps_reached"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusMaxStepsReached
}

// ActionType is the closed vocabulary of executable actions.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionScroll   ActionType = "scroll"
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
	ActionDone     ActionType = "done"
)

// ScrollDirection is the direction of a scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Action is a validated, executable instruction. Only the fields belonging to Type
// are meaningful; values are constructed by Validate and never by hand in the loop.
type Action struct {
	Type       ActionType
	X, Y       int
	Text       string
	Direction  ScrollDirection
	Amount     int
	URL        string
	DurationMS int
	Summary    string
}

// MarshalJSON emits only the fields of the active variant, using the same keys the
// model is asked to produce.
func (a Action) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"action": string(a.Type)}
	switch a.Type {
	case ActionClick:
		m["x"], m["y"] = a.X, a.Y
	case ActionTypeText:
		m["text"] = a.Text
	case ActionScroll:
		m["direction"], m["amount"] = string(a.Direction), a.Amount
	case ActionNavigate:
		m["url"] = a.URL
	case ActionWait:
		m["duration_ms"] = a.DurationMS
	case ActionDone:
		m["summary"] = a.Summary
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the MarshalJSON form through Validate, without bounds.
func (a *Action) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	v, err := Validate(fields, Bounds{})
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// String renders the action compactly, e.g. click(10, 20) or navigate(https://example.com).
func (a Action) String() string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("click(%d, %d)", a.X, a.Y)
	case ActionTypeText:
		return "type(" + strconv.Quote(a.Text) + ")"
	case ActionScroll:
		return fmt.Sprintf("scroll(%s, %d)", a.Direction, a.Amount)
	case ActionNavigate:
		return "navigate(" + a.URL + ")"
	case ActionWait:
		return fmt.Sprintf("wait(%dms)", a.DurationMS)
	case ActionDone:
		return "done(" + strconv.Quote(a.Summary) + ")"
	default:
		return string(a.Type)
	}
}

// Bounds is the pixel size of a captured viewport. A zero value means unknown.
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Known reports whether both dimensions are set.
func (b Bounds) Known() bool { return b.Width > 0 && b.Height > 0 }

// Contains reports whether (x, y) lies inside the viewport.
func (b Bounds) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.Width && y < b.Height
}

// Screenshot is an encoded image of the rendered viewport.
type Screenshot struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Bounds returns the pixel size the screenshot was captured at.
func (s Screenshot) Bounds() Bounds { return Bounds{Width: s.Width, Height: s.Height} }

// Empty reports whether the screenshot carries no image.
func (s Screenshot) Empty() bool { return len(s.Data) == 0 }

// Error kinds recorded on a failed ActionResult in addition to the ExecutionKind values.
const (
	ResultKindCaptureFailed   = "capture_failed"
	ResultKindReasoningFailed = "reasoning_failed"
	ResultKindParseFailure    = "parse_failure"
	ResultKindCancelled       = "cancelled"
)

// ActionResult records how a step ended.
type ActionResult struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Step is one completed capture/reason/parse/act iteration. Immutable once appended.
type Step struct {
	Index        int           `json:"index"`
	Screenshot   Screenshot    `json:"screenshot"`
	RawResponse  string        `json:"raw_response"`
	Action       *Action       `json:"action"`
	Result       ActionResult  `json:"result"`
	Reasoning    string        `json:"reasoning,omitempty"`
	ParseFailure *ParseFailure `json:"parse_failure,omitempty"`
	Attempts     int           `json:"attempts"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Session is one run toward one goal. It is written only by the orchestrator that
// owns it; everyone else reads through Snapshot.
type Session struct {
	ID            string        `json:"id"`
	Goal          string        `json:"goal"`
	StartURL      string        `json:"start_url"`
	Status        SessionStatus `json:"status"`
	Steps         []Step        `json:"steps"`
	Summary       string        `json:"summary,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`

	mu   sync.RWMutex
	done chan struct{}
}

// NewSession creates a running session with no steps.
func NewSession(id, goal, startURL string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Goal:      goal,
		StartURL:  startURL,
		Status:    StatusRunning,
		Steps:     []Step{},
		CreatedAt: now,
		done:      make(chan struct{}),
	}
}

// Snapshot returns a consistent copy of the session safe to hand to other goroutines.
func (s *Session) Snapshot() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]Step, len(s.Steps))
	copy(steps, s.Steps)
	return &Session{
		ID:            s.ID,
		Goal:          s.Goal,
		StartURL:      s.StartURL,
		Status:        s.Status,
		Steps:         steps,
		Summary:       s.Summary,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		FinishedAt:    s.FinishedAt,
		done:          s.done,
	}
}

// Done is closed once the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// StepCount returns the number of recorded steps.
func (s *Session) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Steps)
}

func (s *Session) appendStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return fmt.Errorf("session %s is %s; step %d rejected", s.ID, s.Status, step.Index)
	}
	if step.Index != len(s.Steps) {
		return fmt.Errorf("session %s expected step %d, got %d", s.ID, len(s.Steps), step.Index)
	}
	s.Steps = append(s.Steps, step)
	return nil
}

// recentSteps returns a copy of the last n steps.
func (s *Session) recentSteps(n int) (steps []Step, omitted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.Steps) {
		n = len(s.Steps)
	}
	if n < 0 {
		n = 0
	}
	omitted = len(s.Steps) - n
	steps = make([]Step, n)
	copy(steps, s.Steps[omitted:])
	return steps, omitted
}

// finish moves the session into a terminal status. Only the first call has any effect.
func (s *Session) finish(status SessionStatus, summary, reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return false
	}
	s.Status = status
	s.Summary = summary
	s.FailureReason = reason
	s.FinishedAt = now
	if s.done != nil {
		close(s.done)
	}
	return true
}
