// internal/agent/history.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/navigator/internal/llmutil"
)

// HistoryDigest is the bounded summary of past steps sent with every reasoning
// request. Its size depends only on the window and entry length, never on how long
// the session has been running. Screenshots are never included.
type HistoryDigest struct {
	Omitted int      // older steps left out of Entries
	Entries []string // one line per recent step, oldest first
}

// Empty reports whether there is no history at all.
func (h HistoryDigest) Empty() bool { return h.Omitted == 0 && len(h.Entries) == 0 }

// String renders the digest for a prompt.
func (h HistoryDigest) String() string {
	if h.Empty() {
		return "(none yet)"
	}
	var b strings.Builder
	if h.Omitted > 0 {
		fmt.Fprintf(&b, "(%d earlier steps omitted)\n", h.Omitted)
	}
	b.WriteString(strings.Join(h.Entries, "\n"))
	return b.String()
}

// BuildHistory digests the most recent window steps, truncating each line to maxLen.
// totalBefore is the number of steps older than the ones passed in.
func BuildHistory(recent []Step, totalBefore, window, maxLen int) HistoryDigest {
	if window <= 0 {
		return HistoryDigest{Omitted: totalBefore + len(recent)}
	}
	omitted := totalBefore
	if len(recent) > window {
		omitted += len(recent) - window
		recent = recent[len(recent)-window:]
	}

	entries := make([]string, 0, len(recent))
	for _, s := range recent {
		entries = append(entries, llmutil.Truncate(describeStep(s), maxLen))
	}
	return HistoryDigest{Omitted: omitted, Entries: entries}
}

// describeStep renders one line: "Step 3: click(10, 20) -> ok: Clicked at (10, 20)".
func describeStep(s Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d: ", s.Index+1)

	switch {
	case s.Action != nil:
		b.WriteString(s.Action.String())
	case s.ParseFailure != nil:
		b.WriteString("unparseable response")
	default:
		b.WriteString("no action")
	}

	b.WriteString(" -> ")
	switch {
	case s.Result.OK && s.Result.Message != "":
		b.WriteString("ok: " + s.Result.Message)
	case s.Result.OK:
		b.WriteString("ok")
	case s.ParseFailure != nil:
		b.WriteString("rejected: " + s.ParseFailure.Reason)
	default:
		b.WriteString("failed (" + s.Result.ErrorKind + ")")
		if s.Result.Error != "" {
			b.WriteString(": " + s.Result.Error)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
