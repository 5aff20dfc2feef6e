package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/checkpoint"
	"github.com/Sternrassler/flightstatus-harvester/pkg/client"
	"github.com/Sternrassler/flightstatus-harvester/pkg/credentials"
	"github.com/Sternrassler/flightstatus-harvester/pkg/logging"
)

// Prometheus metrics for the page loop.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_total",
		Help: "Pages handled by result (fetched, skipped)",
	}, []string{"result"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_query_outcomes_total",
		Help: "Query harvests by final outcome",
	}, []string{"outcome"})
)

// ResponseInvalidDateRange is written to a state whose range is inverted.
const ResponseInvalidDateRange = "invalid_date_range"

// Outcome is the terminal classification of one Harvest call.
type Outcome string

const (
	OutcomeComplete         Outcome = "complete"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeQuotaExhausted   Outcome = "quota_exhausted"
	OutcomeError            Outcome = "error"
	OutcomeInvalidDateRange Outcome = "invalid_date_range"
	OutcomePageCap          Outcome = "page_cap"
	OutcomeCancelled        Outcome = "cancelled"
)

// PageFetcher issues one page request. *client.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, secret, signature string, page int) (*client.Result, error)
}

// ArtifactSink stores and probes page artifacts. *sink.Sink implements it.
type ArtifactSink interface {
	Exists(ctx context.Context, signature string, page int) (bool, error)
	Store(ctx context.Context, signature string, page int, body []byte) error
	TotalPages(ctx context.Context, signature string, page int) (int, error)
}

// Limiter gates calls. *ratelimit.Limiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
	MarkCall(ctx context.Context) error
}

// Credentials persists per-key call accounting. *credentials.Pool implements it.
type Credentials interface {
	RecordCall(ctx context.Context, keyDesc string) error
	MarkExhausted(ctx context.Context, keyDesc string, when time.Time) error
}

// Queue yields the credential to use. *credentials.Queue implements it.
type Queue interface {
	Current() (credentials.Record, bool)
	Rotate() bool
}

// Checkpointer persists state updates. *checkpoint.Store implements it.
type Checkpointer interface {
	Record(ctx context.Context, table *checkpoint.Table, state checkpoint.State) (checkpoint.State, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Fetcher     PageFetcher
	Sink        ArtifactSink
	Limiter     Limiter
	Credentials Credentials
	Checkpoints Checkpointer
}

// Config holds engine policies.
type Config struct {
	// MaxPages caps pages per query; 0 means no cap.
	MaxPages int
	// SkipComplete skips states already at 100% without any lookup.
	SkipComplete bool
	// SkipServerErrors skips states whose last attempt failed with 5xx.
	SkipServerErrors bool
	// SkipNotFound skips states whose last attempt returned 404.
	SkipNotFound bool
	// SkipOtherErrors skips states whose last attempt failed with any other status.
	SkipOtherErrors bool
}

// DefaultConfig returns the policies used by scheduled runs.
func DefaultConfig() Config {
	return Config{
		SkipComplete:     true,
		SkipServerErrors: true,
		SkipNotFound:     true,
		SkipOtherErrors:  true,
	}
}

// Report summarizes one Harvest call.
type Report struct {
	Signature    string
	Outcome      Outcome
	PagesFetched int
	PagesSkipped int
	Calls        int
	// Err is the recorded, non-fatal cause of an error-like outcome.
	Err error
}

// Engine runs the page loop.
type Engine struct {
	deps   Deps
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an engine.
func New(deps Deps, config Config, logger zerolog.Logger) *Engine {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Engine{
		deps:   deps,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Harvest retrieves the missing pages of state using credentials from queue
// and records progress into table. The returned error is non-nil only for
// cancellation and storage failures; fetch failures are reported in Report.
func (e *Engine) Harvest(ctx context.Context, queue Queue, table *checkpoint.Table, state checkpoint.State) (Report, error) {
	report, err := e.harvest(ctx, queue, table, state)
	if err != nil && report.Outcome == "" {
		report.Outcome = OutcomeError
	}
	outcomesTotal.WithLabelValues(string(report.Outcome)).Inc()
	return report, err
}

func (e *Engine) harvest(ctx context.Context, queue Queue, table *checkpoint.Table, state checkpoint.State) (Report, error) {
	sig := state.Signature()
	report := Report{Signature: sig}
	logger := logging.WithQuery(e.logger, sig)

	if err := state.Spec.CheckDateRange(); err != nil {
		logger.Error().Err(err).Msg("Invalid date range, query not fetched")
		state.Response = ResponseInvalidDateRange
		state.Message = err.Error()
		state.Timestamp = e.now()
		if _, rerr := e.deps.Checkpoints.Record(ctx, table, state); rerr != nil {
			return report, rerr
		}
		report.Outcome = OutcomeInvalidDateRange
		report.Err = err
		return report, nil
	}

	if reason, skip := e.skipReason(state); skip {
		logger.Info().Str("reason", reason).Msg("Query skipped")
		report.Outcome = OutcomeSkipped
		return report, nil
	}

	total := state.TotalPages
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			report.Outcome = OutcomeCancelled
			return report, err
		}

		if total > 0 && page >= total {
			return e.finish(ctx, table, state, total, report)
		}
		if e.config.MaxPages > 0 && page >= e.config.MaxPages {
			logger.Info().Int("max_pages", e.config.MaxPages).Msg("Page cap reached")
			report.Outcome = OutcomePageCap
			return report, nil
		}

		exists, err := e.deps.Sink.Exists(ctx, sig, page)
		if err != nil {
			return report, err
		}
		if exists {
			if total == 0 {
				total = e.recoverTotal(ctx, logger, sig, page)
			}
			if total > 0 {
				report.PagesSkipped++
				pagesTotal.WithLabelValues("skipped").Inc()
				logger.Debug().Int("page", page).Msg("Page already retrieved")
				continue
			}
		}

		var done bool
		state, total, done, err = e.fetch(ctx, logger, queue, table, state, page, &report)
		if err != nil || done {
			return report, err
		}
	}
}

// fetch performs one page attempt, rotating credentials on quota signals
// until the page succeeds or no credential is left.
func (e *Engine) fetch(ctx context.Context, logger zerolog.Logger, queue Queue, table *checkpoint.Table, state checkpoint.State, page int, report *Report) (checkpoint.State, int, bool, error) {
	sig := state.Signature()

	for {
		cred, ok := queue.Current()
		if !ok {
			logger.Warn().Int("page", page).Msg("No credential with quota left")
			report.Outcome = OutcomeQuotaExhausted
			report.Err = ErrQuotaExhausted
			return state, state.TotalPages, true, nil
		}

		if err := e.deps.Limiter.Wait(ctx); err != nil {
			report.Outcome = OutcomeCancelled
			return state, 0, true, err
		}

		result, err := e.deps.Fetcher.FetchPage(ctx, cred.Secret, sig, page)

		// The call happened; its accounting must survive cancellation.
		acctCtx := context.WithoutCancel(ctx)
		if merr := e.deps.Limiter.MarkCall(acctCtx); merr != nil {
			logger.Warn().Err(merr).Msg("Failed to record call time")
		}
		if err != nil {
			if ctx.Err() != nil {
				report.Outcome = OutcomeCancelled
				return state, 0, true, err
			}
			return state, 0, true, fmt.Errorf("fetch page %d: %w", page, err)
		}

		report.Calls++
		if err := e.deps.Credentials.RecordCall(acctCtx, cred.KeyDesc); err != nil {
			return state, 0, true, err
		}

		now := e.now()
		switch result.Class {
		case client.ClassOK:
			if err := e.deps.Sink.Store(ctx, sig, page, result.Body); err != nil {
				return state, 0, true, err
			}

			total := result.Page.TotalPages
			if total <= 0 {
				total = 1
			}
			state.PagesRetrieved = page + 1
			state.TotalPages = total
			state.TotalFlights = result.Page.FullCount
			state.Completion = checkpoint.CompletionPercent(page+1, total)
			state.Response = result.Status
			state.Message = ""
			state.Timestamp = now

			state, err = e.deps.Checkpoints.Record(ctx, table, state)
			if err != nil {
				return state, 0, true, err
			}

			report.PagesFetched++
			pagesTotal.WithLabelValues("fetched").Inc()
			logger.Info().
				Int("page", page).
				Int("total_pages", total).
				Str("key_desc", cred.KeyDesc).
				Msg("Page retrieved")

			if page+1 >= total {
				report.Outcome = OutcomeComplete
				return state, total, true, nil
			}
			return state, total, false, nil

		case client.ClassQuotaExhausted:
			if err := e.deps.Credentials.MarkExhausted(acctCtx, cred.KeyDesc, now); err != nil {
				return state, 0, true, err
			}
			if !queue.Rotate() {
				logger.Warn().Str("key_desc", cred.KeyDesc).Msg("Daily quota consumed on last credential")
				report.Outcome = OutcomeQuotaExhausted
				report.Err = ErrQuotaExhausted
				return state, state.TotalPages, true, nil
			}
			next, _ := queue.Current()
			logger.Info().
				Str("key_desc", cred.KeyDesc).
				Str("next_key_desc", next.KeyDesc).
				Int("page", page).
				Msg("Rotating credential")

		default:
			state.Response = result.Status
			if state.Response == "" {
				state.Response = string(result.Class)
			}
			state.Message = result.Message
			state.Timestamp = now
			if _, err := e.deps.Checkpoints.Record(ctx, table, state); err != nil {
				return state, 0, true, err
			}

			report.Outcome = OutcomeError
			report.Err = result.Err()
			logger.Warn().
				Err(report.Err).
				Int("page", page).
				Str("key_desc", cred.KeyDesc).
				Msg("Query stopped after failed call")
			return state, 0, true, nil
		}
	}
}

// recoverTotal reads totalPages from a stored artifact. Returns 0 if the
// artifact cannot be decoded; the page is then fetched again.
func (e *Engine) recoverTotal(ctx context.Context, logger zerolog.Logger, sig string, page int) int {
	total, err := e.deps.Sink.TotalPages(ctx, sig, page)
	if err != nil || total < 0 {
		logger.Warn().Err(err).Int("page", page).Msg("Cannot recover page count from artifact")
		return 0
	}
	if total == 0 {
		total = 1
	}
	logger.Info().Int("total_pages", total).Msg("Page count recovered from artifact")
	return total
}

// finish marks state complete once every page is known to be stored.
func (e *Engine) finish(ctx context.Context, table *checkpoint.Table, state checkpoint.State, total int, report Report) (Report, error) {
	report.Outcome = OutcomeComplete
	if state.IsComplete() && state.PagesRetrieved >= total && state.TotalPages == total {
		return report, nil
	}

	state.PagesRetrieved = total
	state.TotalPages = total
	state.Completion = 100
	state.Timestamp = e.now()
	if _, err := e.deps.Checkpoints.Record(ctx, table, state); err != nil {
		return report, err
	}

	e.logger.Info().Str("signature", report.Signature).Int("total_pages", total).Msg("All pages already retrieved")
	return report, nil
}

// skipReason applies the skip policies to the last recorded attempt.
func (e *Engine) skipReason(state checkpoint.State) (string, bool) {
	if state.IsComplete() {
		if e.config.SkipComplete {
			return "complete", true
		}
		return "", false
	}

	code := state.StatusCode()
	switch {
	case code == 0 || (code >= 200 && code < 300):
		return "", false
	case code >= 500:
		return "previous server error", e.config.SkipServerErrors
	case code == 404:
		return "previous not found", e.config.SkipNotFound
	default:
		return "previous error", e.config.SkipOtherErrors
	}
}

// IsFatal reports whether err from Harvest must abort the run.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
