package commands

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
)

// NewDashCmd creates the dash command
func NewDashCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Open the web console in browser",
		Long: `Open the web console in the default browser.

The console must already be running ('clinicadmin console').`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := globalOptions(cmd)
			if listen != "" {
				opts = append(opts, WithListenAddr(listen))
			}
			return runDash(cmd.Context(), opts...)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address the console listens on")

	return cmd
}

func runDash(_ context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}

	dashboardURL := consoleURL(e)
	fmt.Fprintf(e.out, "Opening console...\nURL: %s\n", dashboardURL)

	if err := openBrowser(dashboardURL); err != nil {
		return fmt.Errorf("failed to open browser: %w\nPlease visit: %s", err, dashboardURL)
	}

	return nil
}

func consoleURL(e *env) string {
	listen := e.cfg.Console.ListenAddr
	if e.listenAddr != "" {
		listen = e.listenAddr
	}
	if listen == "" {
		listen = "127.0.0.1:8080"
	}
	return fmt.Sprintf("http://%s/dashboard", listen)
}

// openBrowser opens the URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
