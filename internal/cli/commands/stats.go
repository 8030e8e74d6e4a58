package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewStatsCmd creates the stats command
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), globalOptions(cmd)...)
		},
	}
}

func runStats(ctx context.Context, opts ...Option) error {
	e, err := newEnv(opts...)
	if err != nil {
		return err
	}
	if _, err := e.requireSession(ctx); err != nil {
		return err
	}

	stats, err := e.api.Stats(ctx)
	if err != nil {
		return apiFailure(err)
	}

	rate := stats.ConversionRate
	if rate == "" {
		rate = "0%"
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total appointments:\t%d\n", stats.Total)
	fmt.Fprintf(w, "New today:\t%d\n", stats.NewToday)
	fmt.Fprintf(w, "Handled by AI:\t%d\n", stats.AIHandled)
	fmt.Fprintf(w, "Conversion rate:\t%s\n", rate)
	return w.Flush()
}
