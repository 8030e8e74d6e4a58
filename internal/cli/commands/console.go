package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/console"
)

// NewConsoleCmd creates the console command
func NewConsoleCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Serve the admin web console",
		Long: `Serve the admin web console on a local address.

The console shares the stored credential with the CLI: logging in on one
is visible to the other on the next session check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := globalOptions(cmd)
			if listen != "" {
				opts = append(opts, WithListenAddr(listen))
			}
			return RunConsole(cmd.Context(), opts...)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default from CONSOLE_LISTEN_ADDR)")

	return cmd
}

// WithListenAddr overrides the configured console listen address
func WithListenAddr(addr string) Option {
	return func(o *options) { o.listenAddr = addr }
}

// RunConsole serves the console until ctx is cancelled or SIGINT/SIGTERM arrives
func RunConsole(ctx context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}

	listen := e.cfg.Console.ListenAddr
	if e.listenAddr != "" {
		listen = e.listenAddr
	}

	srv, err := console.New(e.api, e.session, e.logger, console.Options{
		ListenAddr:       listen,
		AllowedOrigins:   e.cfg.Console.AllowedOrigins,
		ReverifySchedule: e.cfg.Session.ReverifySchedule,
		Version:          version,
	})
	if err != nil {
		return fmt.Errorf("failed to create console: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(e.out, "Console listening on http://%s (API %s)\n", listen, e.apiURL)
	return srv.Run(ctx)
}
