// Package pagination drives the page loop for one query spec.
//
// The engine fetches pages 0..totalPages-1 strictly in order under the
// head credential of a rotation queue. Before each page it consults the
// result sink: a stored artifact means the page was already retrieved and
// no call is made. Every attempt is written to the checkpoint table before
// the next one starts.
//
// Example usage:
//
//	engine := pagination.New(pagination.Deps{
//		Fetcher:     apiClient,
//		Sink:        artifactSink,
//		Limiter:     limiter,
//		Credentials: pool,
//		Checkpoints: store,
//	}, pagination.DefaultConfig(), logger)
//	report, err := engine.Harvest(ctx, pool.Queue(), table, state)
//
// Per query the engine ends in one of:
//   - complete: every page is stored
//   - skipped: already complete, or a previous error matches a skip policy
//   - quota_exhausted: no credential has quota left
//   - error: a non-quota failure was recorded into the state
//   - invalid_date_range: startRange is after endRange, nothing was fetched
//   - page_cap: the configured maximum page count was reached
//
// Only storage failures and cancellation are returned as errors.
package pagination
