// Package metrics provides the Prometheus registry reference and the HTTP
// endpoint that exposes harvester metrics. All metrics are defined in their
// respective packages (client, credentials, pagination, ratelimit, sink)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// NewHandler returns a mux serving /metrics, /health and /ready.
// A nil check makes /ready equivalent to /health.
func NewHandler(check ReadinessCheck) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(check))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(check ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := check(ctx); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, check ReadinessCheck, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(check),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{class} (Counter): Requests by result class (ok, quota_exhausted, server, not_found, client, network)
//   - harvest_request_duration_seconds (Histogram): Request duration
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvest_rate_limit_wait_seconds (Histogram): Time spent waiting for the call interval
//   - harvest_rate_limit_throttles_total (Counter): Calls that had to wait
//
// Credential Metrics (pkg/credentials):
//   - harvest_credential_calls_today{key_desc} (Gauge): Calls consumed today per credential
//   - harvest_credential_exhausted_total{key_desc} (Counter): Quota signals per credential
//
// Pagination Metrics (pkg/pagination):
//   - harvest_pages_total{result} (Counter): Pages fetched or skipped
//   - harvest_query_outcomes_total{outcome} (Counter): Queries by final outcome
//
// Artifact Metrics (pkg/sink):
//   - harvest_artifacts_total{result} (Counter): Artifacts stored, already present or failed
//   - harvest_artifact_bytes_total (Counter): Compressed bytes written
//
// Example Prometheus Queries:
//
//   # Quota headroom per credential
//   100 - harvest_credential_calls_today
//
//   # Share of pages served from existing artifacts
//   rate(harvest_pages_total{result="skipped"}[1h]) / rate(harvest_pages_total[1h])
//
//   # Failed call rate
//   sum(rate(harvest_requests_total{class!="ok"}[5m])) / sum(rate(harvest_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
