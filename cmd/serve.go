// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/service"
)

// newServeCmd creates the `serve` command, which exposes sessions over HTTP.
func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent API over HTTP, SSE and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
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

			logger.Info("Starting navigator API.",
				zap.String("version", Version),
				zap.String("listen_addr", cfg.Server.ListenAddr),
				zap.String("model", components.Sessions.Model()),
				zap.String("driver", string(cfg.Browser.Driver)),
				zap.Bool("auth", cfg.Server.Auth.JWTSecret != ""))
			return service.Serve(ctx, components, nil)
		},
	}
	cmd.Flags().String("listen", "", "address to listen on (default :8080)")
	cmd.Flags().Int("max-sessions", 0, "maximum concurrent sessions")
	cmd.Flags().String("driver", "", "browser driver (chromedp or rod)")
	cmd.Flags().Bool("headless", true, "run browsers headless")
	cmd.Flags().String("model", "", "reasoning model identifier")
	cmd.Flags().Int("max-steps", 0, "maximum steps per session")
	return cmd
}
