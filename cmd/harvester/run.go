package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/flightstatus-harvester/pkg/harvest"
	"github.com/Sternrassler/flightstatus-harvester/pkg/metrics"
	"github.com/Sternrassler/flightstatus-harvester/pkg/pagination"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		maxPages int
		noRoll   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest all pending queries until done or out of quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-pages") {
				root.cfg.Harvest.MaxPages = maxPages
			}
			if noRoll {
				root.cfg.Harvest.RollDates = false
			}
			return runHarvest(cmd.Context(), root, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page cap per query, 0 for none")
	cmd.Flags().BoolVar(&noRoll, "no-roll", false, "do not append new date windows after the run")
	return cmd
}

func runHarvest(ctx context.Context, root *rootOptions, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(root.cfg, root.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.fetchingRunner(ctx)
	if err != nil {
		root.logger.Error().Err(err).Msg("Failed to start harvester")
		return err
	}

	if addr := root.cfg.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, a.ready, root.logger); err != nil {
				root.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	summary, err := runner.Run(ctx)
	if summary != nil {
		printSummary(out, summary)
	}
	if err != nil {
		if ctx.Err() != nil {
			root.logger.Warn().Msg("Harvest interrupted, progress is saved")
			return nil
		}
		root.logger.Error().Err(err).Msg("Harvest run failed")
		return err
	}
	return nil
}

func printSummary(w io.Writer, s *harvest.Summary) {
	fmt.Fprintf(w, "run %s\n", s.RunID)
	fmt.Fprintf(w, "  sources:        %d\n", s.Sources)
	fmt.Fprintf(w, "  queries:        %d\n", s.Queries)
	fmt.Fprintf(w, "  calls:          %d\n", s.Calls)
	fmt.Fprintf(w, "  pages fetched:  %d\n", s.PagesFetched)
	fmt.Fprintf(w, "  pages skipped:  %d\n", s.PagesSkipped)
	fmt.Fprintf(w, "  windows rolled: %d\n", s.Rolled)

	outcomes := make([]pagination.Outcome, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-15s %d\n", string(o)+":", s.Outcomes[o])
	}

	if s.QuotaExhausted {
		fmt.Fprintln(w, "  stopped early: all credentials exhausted")
	}
}
