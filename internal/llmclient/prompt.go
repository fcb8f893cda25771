// internal/llmclient/prompt.go
package llmclient

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// stuckAttempts is how many repeats of the same action the model is told to allow
// before giving up with a partial result.
const stuckAttempts = 3

// SystemPrompt renders the fixed instructions for a viewport of the given size.
func SystemPrompt(viewport agent.Bounds) string {
	var b strings.Builder
	b.WriteString("You are a browser navigation agent. You look at a screenshot of a web page and decide the single next action that moves toward the user's goal.\n\n")
	b.WriteString("Reply with exactly one JSON object in one of these forms:\n")
	b.WriteString(`- {"action": "navigate", "url": "https://..."} to load a URL` + "\n")
	b.WriteString(`- {"action": "click", "x": 100, "y": 200} to click at pixel coordinates` + "\n")
	b.WriteString(`- {"action": "type", "text": "hello world"} to type into the focused element` + "\n")
	fmt.Fprintf(&b, `- {"action": "scroll", "direction": "down", "amount": %d} to scroll up or down by pixels`+"\n", agent.DefaultScrollAmount)
	fmt.Fprintf(&b, `- {"action": "wait", "duration_ms": %d} to wait for the page`+"\n", agent.DefaultWaitDurationMS)
	b.WriteString(`- {"action": "done", "summary": "what was accomplished"} when the goal is complete` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Respond with the JSON object only. No prose, no markdown.\n")
	if viewport.Known() {
		fmt.Fprintf(&b, "2. Coordinates must lie inside the visible viewport (%dx%d): 0 <= x < %d and 0 <= y < %d.\n",
			viewport.Width, viewport.Height, viewport.Width, viewport.Height)
	} else {
		b.WriteString("2. Coordinates must lie inside the visible viewport.\n")
	}
	b.WriteString("3. As soon as the goal is achieved, answer with done.\n")
	fmt.Fprintf(&b, "4. If the same action has failed %d times, answer with done and a partial summary.\n", stuckAttempts)
	return b.String()
}

// UserPrompt renders the per-step text sent alongside the screenshot.
func UserPrompt(req agent.InferenceRequest) string {
	return fmt.Sprintf("Goal: %s\n\nStep: %d/%d\nRecent actions:\n%s\n\nBased on the current screenshot, what is the next action to take?\nRespond with JSON only.",
		req.Goal, req.StepIndex+1, req.MaxSteps, req.History.String())
}
