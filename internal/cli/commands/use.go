package commands

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/userconfig"
	"github.com/gulfclinic/clinicadmin/internal/config"
)

// NewUseCmd creates the use command
func NewUseCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "use [api-url]",
		Short: "Select the clinic API server",
		Long: `Select the clinic API server used by later commands.

Without an argument, prints the server currently in use.

Examples:
  $ clinicadmin use https://clinic.example.com
  $ clinicadmin use --reset`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return runUse(os.Stdout, target, reset)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Forget the selected server and use the default")

	return cmd
}

func runUse(out io.Writer, target string, reset bool) error {
	if reset {
		if err := userconfig.SetAPIURL(""); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(out, "✓ Using default server %s\n", config.DefaultAPIURL)
		return nil
	}

	if target == "" {
		userCfg, err := userconfig.Load()
		if err != nil {
			return fmt.Errorf("failed to load user config: %w", err)
		}
		current := userCfg.APIURL
		if current == "" {
			current = config.DefaultAPIURL + " (default)"
		}
		fmt.Fprintln(out, current)
		return nil
	}

	apiURL, err := normalizeAPIURL(target)
	if err != nil {
		return err
	}
	if err := userconfig.SetAPIURL(apiURL); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(out, "✓ Using %s\n", apiURL)
	fmt.Fprintln(out, "Run 'clinicadmin login' if you have no credential for this server yet.")
	return nil
}

func normalizeAPIURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("invalid URL: scheme must be http or https")
	}
	if u.Host == "" {
		return "", errors.New("invalid URL: missing host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}
