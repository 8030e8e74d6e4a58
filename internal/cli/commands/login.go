package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/cli/userconfig"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the clinic admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), email, password, globalOptions(cmd)...)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set CLINIC_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set CLINIC_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, email, password string, opts ...Option) error {
	// Check for environment variables (useful for scripts)
	if email == "" {
		email = os.Getenv("CLINIC_EMAIL")
	}
	if password == "" {
		password = os.Getenv("CLINIC_PASSWORD")
	}

	e, err := newEnv(opts...)
	if err != nil {
		return err
	}

	if email == "" {
		userCfg, err := userconfig.Load()
		if err != nil {
			return fmt.Errorf("failed to load user config: %w", err)
		}
		if email, err = e.prompt.Email(userCfg.LastEmail); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = e.prompt.Password(); err != nil {
			return err
		}
	}

	fmt.Fprintf(e.out, "Logging in to %s...\n", e.apiURL)

	st, err := e.session.Login(ctx, email, password)
	switch {
	case err == nil:
	case client.IsUnauthenticated(err):
		return errors.New("login failed: invalid email or password")
	case errors.Is(err, session.ErrNotConfirmed):
		return errors.New("login failed: the server issued a token but did not confirm the session")
	default:
		return err
	}

	if err := userconfig.SetLastEmail(email); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to remember login email")
	}

	fmt.Fprintln(e.out, "✓ Login successful!")
	fmt.Fprintf(e.out, "  Admin: %s\n", st.Identity.Email)
	fmt.Fprintf(e.out, "  Role: %s\n", roleLabel(st.Identity.Role))
	return nil
}
