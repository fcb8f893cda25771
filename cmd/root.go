// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/service"
)

type contextKey string

// configKey stores the validated *config.Config in a command's context.
const configKey contextKey = "config"

// envPrefix namespaces every environment override, e.g. NAVIGATOR_SERVER_LISTEN_ADDR.
const envPrefix = "NAVIGATOR"

// flagBindings maps command flags onto config keys so that flags override the
// config file and environment.
var flagBindings = map[string]string{
	"log-level":    "logger.level",
	"listen":       "server.listen_addr",
	"max-sessions": "server.max_sessions",
	"driver":       "browser.driver",
	"headless":     "browser.headless",
	"model":        "agent.llm.model",
	"max-steps":    "agent.loop.max_steps",
}

// NewRootCommand builds the navigator command tree wired to production components.
func NewRootCommand() *cobra.Command {
	return newRootCmd(service.NewComponentFactory())
}

func newRootCmd(factory service.ComponentFactory) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "navigator",
		Short:         "Navigator drives a browser toward a goal using a vision model.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.navigator/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(newServeCmd(factory))
	cmd.AddCommand(newRunCmd(factory))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with a signal-aware context and logs failures.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, environment variables and bound flags into v.
// A missing config file is not an error; defaults and the environment still apply.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("invalid config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".navigator"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// configFromContext returns the config stored by the root command.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
