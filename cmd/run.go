// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/service"
)

// errSessionUnsuccessful is returned when a session ends in any status but succeeded.
var errSessionUnsuccessful = errors.New("session did not succeed")

// newRunCmd creates the `run` command, which drives one session in-process and
// prints its progress.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		goal        string
		startURL    string
		asJSON      bool
		screenshots bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one browsing session to completion and print each step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			sink := newPrinterSink(cmd.OutOrStdout(), asJSON)
			final, err := service.RunOnce(ctx, components, agent.RunRequest{Goal: goal, StartURL: startURL}, sink, screenshots && asJSON)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				logger.Warn("Session aborted by signal.", zap.String("session_id", final.ID))
				return ctx.Err()
			}
			if final.Status != agent.StatusSucceeded {
				return fmt.Errorf("%w: %s %s", errSessionUnsuccessful, final.Status, final.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "natural-language goal for the session (required)")
	cmd.Flags().StringVarP(&startURL, "url", "u", "", "start URL (default is server.default_start_url)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	cmd.Flags().BoolVar(&screenshots, "screenshots", false, "include base64 screenshots in JSON output")
	cmd.Flags().String("driver", "", "browser driver (chromedp or rod)")
	cmd.Flags().Bool("headless", true, "run the browser headless")
	cmd.Flags().String("model", "", "reasoning model identifier")
	cmd.Flags().Int("max-steps", 0, "maximum steps for the session")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

// printerSink writes events to a terminal or as JSON lines.
type printerSink struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
}

func newPrinterSink(out io.Writer, asJSON bool) *printerSink {
	return &printerSink{out: out, asJSON: asJSON}
}

func (p *printerSink) Send(_ context.Context, ev agent.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", data)
		return err
	}

	var err error
	switch ev.Type {
	case agent.EventStep:
		_, err = fmt.Fprintln(p.out, formatStep(ev.Step))
	case agent.EventFinal:
		f := ev.Final
		switch {
		case f.Summary != "":
			_, err = fmt.Fprintf(p.out, "%s after %d steps: %s\n", f.Status, f.TotalSteps, f.Summary)
		case f.FailureReason != "":
			_, err = fmt.Fprintf(p.out, "%s after %d steps: %s\n", f.Status, f.TotalSteps, f.FailureReason)
		default:
			_, err = fmt.Fprintf(p.out, "%s after %d steps\n", f.Status, f.TotalSteps)
		}
	}
	return err
}

// formatStep renders one step as a single line, numbered from 1.
func formatStep(s *agent.StepEvent) string {
	if s.ParseFailure != nil {
		return fmt.Sprintf("[%d] unparseable response: %s", s.Index+1, s.ParseFailure.Reason)
	}
	line := fmt.Sprintf("[%d] %s", s.Index+1, s.Action)
	if s.Action == nil {
		line = fmt.Sprintf("[%d] no action", s.Index+1)
	}
	if s.Result.OK {
		line += " ok"
		if s.Result.Message != "" {
			line += ": " + s.Result.Message
		}
	} else {
		line += " failed (" + s.Result.ErrorKind + ")"
		if s.Result.Error != "" {
			line += ": " + s.Result.Error
		}
	}
	if s.Reasoning != "" {
		line += " | " + s.Reasoning
	}
	return line
}
