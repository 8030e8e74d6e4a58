package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), globalOptions(cmd)...)
		},
	}
}

func runLogout(ctx context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}

	if err := e.session.Logout(ctx); err != nil {
		return err
	}

	fmt.Fprintln(e.out, "✓ Logged out")
	return nil
}
