package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/commands"
	"github.com/gulfclinic/clinicadmin/internal/logger"
)

var version = "dev" // Will be set during build

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "clinicadmin",
	Short: "Clinic admin - Manage appointment requests and clinic settings",
	Long: `Clinic admin CLI - Sign in to the clinic backend, review appointment
requests, and manage automation settings.

Run 'clinicadmin console' to serve the same features as a local web console.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "warn"
		}
		if verbose {
			level = "debug"
		}
		logger.InitWithWriter(os.Stderr, level, "console")
	},
}

func init() {
	rootCmd.PersistentFlags().String("api-url", "", "Clinic API base URL (overrides CLINIC_API_URL and 'clinicadmin use')")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log API requests to stderr")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clinicadmin version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewWhoamiCmd())
	rootCmd.AddCommand(commands.NewStatsCmd())
	rootCmd.AddCommand(commands.NewAppointmentsCmd())
	rootCmd.AddCommand(commands.NewSettingsCmd())
	rootCmd.AddCommand(commands.NewConsoleCmd())
	rootCmd.AddCommand(commands.NewDashCmd())
	rootCmd.AddCommand(commands.NewUseCmd())
}

// SetVersion sets the build version reported by the CLI
func SetVersion(v string) {
	if v != "" {
		version = v
	}
	commands.SetVersion(version)
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	commands.SetVersion(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
