// File: cmd/version.go
package cmd

import "github.com/spf13/cobra"

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/xkilldash9x/navigator/cmd.Version=1.0.0"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the navigator version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("navigator version %s\n", Version)
		},
	}
}
