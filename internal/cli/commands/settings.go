package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

// NewSettingsCmd creates the settings command group
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change clinic automation settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show clinic settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsShow(cmd.Context(), globalOptions(cmd)...)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <aiEnabled|emailEnabled|sheetsEnabled> <on|off>",
		Short: "Switch an automation on or off (super admins only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsSet(cmd.Context(), args[0], args[1], globalOptions(cmd)...)
		},
	})

	return cmd
}

func runSettingsShow(ctx context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}
	admin, err := e.requireSession(ctx)
	if err != nil {
		return err
	}

	settings, err := e.api.Settings(ctx)
	if err != nil {
		return apiFailure(err)
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Clinic:\t%s\n", settings.ClinicName)
	if settings.WhatsappNumber != "" {
		fmt.Fprintf(w, "WhatsApp:\t%s\n", settings.WhatsappNumber)
	}
	for _, field := range client.ToggleFields {
		fmt.Fprintf(w, "%s:\t%s\n", field, onOff(settings.Toggle(field)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !admin.IsSuperAdmin() {
		fmt.Fprintln(e.out, "\nView only: only super admins can change these settings.")
	}
	return nil
}

func runSettingsSet(ctx context.Context, field, value string, opts ...Option) error {
	field, err := client.ParseToggleField(field)
	if err != nil {
		return err
	}
	enabled, err := parseOnOff(value)
	if err != nil {
		return err
	}

	e, err := newEnv(opts...)
	if err != nil {
		return err
	}
	admin, err := e.requireSession(ctx)
	if err != nil {
		return err
	}
	if !admin.IsSuperAdmin() {
		return errors.New("only super admins can change clinic settings")
	}

	if _, err := e.api.UpdateSetting(ctx, field, enabled); err != nil {
		if errors.Is(err, client.ErrRejected) {
			return fmt.Errorf("the server refused the change; %s was left unchanged", field)
		}
		return apiFailure(err)
	}

	fmt.Fprintf(e.out, "✓ %s turned %s\n", field, onOff(enabled))
	return nil
}

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid value '%s', must be on or off", v)
}
