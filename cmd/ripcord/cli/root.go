package cli

import (
	"fmt"
	"runtime"

	"github.com/ripcordio/cli/cmd/ripcord/cli/metrics"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"

	"github.com/spf13/cobra"
)

const gettingStarted = `

Getting Started:
  Run 'ripcord init' inside your project to start protecting a coding
  session. For more information, visit:
  https://ripcord.io/docs/getting-started

`

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value (e.g., ACCESSIBLE=1) to enable accessibility
                mode. This uses simpler text prompts instead of interactive
                TUI elements, which works better with screen readers.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ripcord",
		Short: "Ripcord CLI",
		Long:  "A shadow-history safety net for AI coding sessions" + gettingStarted + accessibilityHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Load metrics preference from settings (ignore errors - nil defaults to disabled)
			var metricsEnabled *bool
			enabled := true
			if cfg, err := settings.Load(); err == nil {
				metricsEnabled = cfg.Metrics
				enabled = cfg.Enabled
			}

			client := metrics.NewClient(Version, metricsEnabled)
			defer client.Close()
			client.TrackCommand(cmd, enabled)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSaveCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAcceptCmd())
	cmd.AddCommand(newRejectCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("Ripcord CLI %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
