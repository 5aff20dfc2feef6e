package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/flightstatus-harvester/pkg/harvest"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show harvesting progress per matrix file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses, err := a.statusRunner().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), statuses)
		},
	}
}

func printStatus(w io.Writer, statuses []harvest.SourceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tQUERIES\tCOMPLETE\tFAILED\tPENDING\tPAGES\tFLIGHTS")

	var total harvest.SourceStatus
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Source, s.Queries, s.Complete, s.Failed, s.Pending, s.PagesRetrieved, s.Flights)

		total.Queries += s.Queries
		total.Complete += s.Complete
		total.Failed += s.Failed
		total.Pending += s.Pending
		total.PagesRetrieved += s.PagesRetrieved
		total.Flights += s.Flights
	}
	if len(statuses) > 1 {
		fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d\n",
			total.Queries, total.Complete, total.Failed, total.Pending, total.PagesRetrieved, total.Flights)
	}
	return tw.Flush()
}
