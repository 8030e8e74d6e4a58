package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), globalOptions(cmd)...)
		},
	}
}

func runWhoami(ctx context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}

	admin, err := e.requireSession(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Email:\t%s\n", admin.Email)
	fmt.Fprintf(w, "Role:\t%s\n", roleLabel(admin.Role))
	fmt.Fprintf(w, "ID:\t%s\n", admin.ID)
	fmt.Fprintf(w, "API:\t%s\n", e.apiURL)

	if token, err := e.tokens.LoadToken(); err == nil {
		if info, ok := auth.Inspect(token); ok && info.ExpiresAt != nil {
			left := time.Until(*info.ExpiresAt).Round(time.Minute)
			fmt.Fprintf(w, "Expires:\t%s (in %s)\n", info.ExpiresAt.Local().Format(time.RFC1123), left)
		}
	}

	return w.Flush()
}
