package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

// NewAppointmentsCmd creates the appointments command group
func NewAppointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointments",
		Aliases: []string{"appt"},
		Short:   "List and update appointment requests",
	}

	cmd.AddCommand(newAppointmentsListCmd())
	cmd.AddCommand(newAppointmentsStatusCmd())

	return cmd
}

func newAppointmentsListCmd() *cobra.Command {
	var search, status string

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List appointment requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppointmentsList(cmd.Context(), search, status, globalOptions(cmd)...)
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter by name or phone")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (NEW, CONTACTED, CLOSED)")

	return cmd
}

func runAppointmentsList(ctx context.Context, search, status string, opts ...Option) error {
	params := client.ListAppointmentsParams{Search: search}
	if status != "" {
		st, err := client.ParseAppointmentStatus(status)
		if err != nil {
			return err
		}
		params.Status = st
	}

	e, err := newEnv(opts...)
	if err != nil {
		return err
	}
	if _, err := e.requireSession(ctx); err != nil {
		return err
	}

	appointments, err := e.api.ListAppointments(ctx, params)
	if err != nil {
		return apiFailure(err)
	}

	if len(appointments) == 0 {
		fmt.Fprintln(e.out, "No appointments found.")
		return nil
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tSTATUS\tREQUESTED")
	fmt.Fprintln(w, "──\t────\t─────\t──────\t─────────")
	for _, a := range appointments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.FullName,
			a.Phone,
			a.Status,
			a.CreatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func newAppointmentsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> [NEW|CONTACTED|CLOSED]",
		Short: "Change the status of an appointment request",
		Long: `Change the status of an appointment request.

If no status is given, an interactive prompt will be shown.

Examples:
  $ clinicadmin appointments status 01J9Z3 CONTACTED
  $ clinicadmin appointments status 01J9Z3`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status string
			if len(args) > 1 {
				status = args[1]
			}
			return runAppointmentStatus(cmd.Context(), args[0], status, globalOptions(cmd)...)
		},
	}
}

func runAppointmentStatus(ctx context.Context, id, status string, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}
	if _, err := e.requireSession(ctx); err != nil {
		return err
	}

	var next client.AppointmentStatus
	if status != "" {
		if next, err = client.ParseAppointmentStatus(status); err != nil {
			return err
		}
	} else {
		if next, err = e.prompt.Status(client.StatusNew); err != nil {
			return err
		}
	}

	updated, err := e.api.UpdateAppointmentStatus(ctx, id, next)
	if err != nil {
		return apiFailure(err)
	}

	name := id
	if updated != nil && updated.FullName != "" {
		name = updated.FullName
	}
	fmt.Fprintf(e.out, "✓ %s is now %s\n", name, next)
	return nil
}
