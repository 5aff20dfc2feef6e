// Package harvest orchestrates one harvesting run over every matrix file.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/checkpoint"
	"github.com/Sternrassler/flightstatus-harvester/pkg/credentials"
	"github.com/Sternrassler/flightstatus-harvester/pkg/logging"
	"github.com/Sternrassler/flightstatus-harvester/pkg/pagination"
	"github.com/Sternrassler/flightstatus-harvester/pkg/roller"
)

// Options configures a Runner.
type Options struct {
	// RollDates appends new date windows after each matrix file is processed.
	RollDates bool
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Store  *checkpoint.Store
	Pool   *credentials.Pool
	Engine *pagination.Engine
	Roller *roller.Roller
}

// Summary is the result of one run.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	Sources      int
	Queries      int
	Calls        int
	PagesFetched int
	PagesSkipped int
	Rolled       int
	Outcomes     map[pagination.Outcome]int

	// QuotaExhausted is set when the run stopped early for lack of quota.
	QuotaExhausted bool
}

func (s *Summary) add(r pagination.Report) {
	s.Queries++
	s.Calls += r.Calls
	s.PagesFetched += r.PagesFetched
	s.PagesSkipped += r.PagesSkipped
	s.Outcomes[r.Outcome]++
}

// Runner executes harvesting runs.
type Runner struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New creates a runner.
func New(deps Deps, opts Options, logger zerolog.Logger) *Runner {
	return &Runner{deps: deps, opts: opts, logger: logger}
}

// Run harvests every matrix file in order with one shared credential queue.
// Once no credential has quota left no further requests are issued, but
// date windows are still rolled. Malformed matrices and storage failures
// abort the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:    uuid.NewString(),
		Started:  time.Now(),
		Outcomes: make(map[pagination.Outcome]int),
	}
	logger := logging.WithRun(r.logger, summary.RunID)

	sources, err := r.deps.Store.Sources(ctx)
	if err != nil {
		return summary, err
	}
	if len(sources) == 0 {
		logger.Warn().Msg("No matrix files found")
	}

	queue := r.deps.Pool.Queue()
	logger.Info().
		Int("sources", len(sources)).
		Int("credentials", queue.Len()).
		Msg("Harvest run started")

	for _, source := range sources {
		table, err := r.deps.Store.Load(ctx, source)
		if err != nil {
			return summary, fmt.Errorf("load matrix: %w", err)
		}
		summary.Sources++

		if !summary.QuotaExhausted {
			if err := r.harvestTable(ctx, logger, queue, table, summary); err != nil {
				return summary, err
			}
		}

		if r.opts.RollDates {
			n, err := r.rollTable(ctx, table)
			if err != nil {
				return summary, err
			}
			summary.Rolled += n
		}
	}

	summary.Finished = time.Now()
	logger.Info().
		Int("queries", summary.Queries).
		Int("calls", summary.Calls).
		Int("pages_fetched", summary.PagesFetched).
		Int("pages_skipped", summary.PagesSkipped).
		Int("rolled", summary.Rolled).
		Bool("quota_exhausted", summary.QuotaExhausted).
		Dur("duration", summary.Finished.Sub(summary.Started)).
		Msg("Harvest run finished")

	return summary, nil
}

func (r *Runner) harvestTable(ctx context.Context, logger zerolog.Logger, queue *credentials.Queue, table *checkpoint.Table, summary *Summary) error {
	logger = logging.WithSource(logger, table.Source())
	logger.Info().Int("queries", table.Len()).Msg("Processing matrix")

	for _, state := range table.States() {
		report, err := r.deps.Engine.Harvest(ctx, queue, table, state)
		summary.add(report)
		if err != nil {
			if pagination.IsFatal(err) {
				return fmt.Errorf("harvest %s: %w", report.Signature, err)
			}
			return err
		}

		logger.Debug().
			Str("signature", report.Signature).
			Str("outcome", string(report.Outcome)).
			Int("calls", report.Calls).
			Msg("Query processed")

		if report.Outcome == pagination.OutcomeQuotaExhausted {
			summary.QuotaExhausted = true
			logger.Warn().Msg("All credentials exhausted, stopping requests for this run")
			return nil
		}
	}
	return nil
}

// Roll appends date windows to every matrix file without fetching.
func (r *Runner) Roll(ctx context.Context) (int, error) {
	sources, err := r.deps.Store.Sources(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, source := range sources {
		table, err := r.deps.Store.Load(ctx, source)
		if err != nil {
			return total, fmt.Errorf("load matrix: %w", err)
		}
		n, err := r.rollTable(ctx, table)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// rollTable appends rolled windows to table and saves it if anything changed.
func (r *Runner) rollTable(ctx context.Context, table *checkpoint.Table) (int, error) {
	if r.deps.Roller == nil {
		return 0, errors.New("roller not configured")
	}

	added := 0
	for _, spec := range r.deps.Roller.Roll(table.States()) {
		if _, exists := table.Get(spec.Signature()); exists {
			continue
		}
		table.Upsert(checkpoint.NewState(spec))
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := r.deps.Store.Save(ctx, table); err != nil {
		return 0, err
	}
	r.logger.Info().Str("source", table.Source()).Int("added", added).Msg("Date windows appended")
	return added, nil
}
