package harvest

import (
	"context"
	"fmt"

	"github.com/Sternrassler/flightstatus-harvester/pkg/checkpoint"
	"github.com/Sternrassler/flightstatus-harvester/pkg/pagination"
)

// SourceStatus is the progress of one matrix file.
type SourceStatus struct {
	Source         string
	Queries        int
	Complete       int
	Failed         int
	Pending        int
	PagesRetrieved int
	Flights        int
}

// Status reports progress per matrix file without issuing requests.
func (r *Runner) Status(ctx context.Context) ([]SourceStatus, error) {
	sources, err := r.deps.Store.Sources(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SourceStatus, 0, len(sources))
	for _, source := range sources {
		table, err := r.deps.Store.Load(ctx, source)
		if err != nil {
			return out, fmt.Errorf("load matrix: %w", err)
		}
		out = append(out, summarize(table))
	}
	return out, nil
}

func summarize(table *checkpoint.Table) SourceStatus {
	st := SourceStatus{Source: table.Source()}
	for _, s := range table.States() {
		st.Queries++
		st.PagesRetrieved += s.PagesRetrieved
		st.Flights += s.TotalFlights

		code := s.StatusCode()
		switch {
		case s.IsComplete():
			st.Complete++
		case s.Response == pagination.ResponseInvalidDateRange, code >= 300:
			st.Failed++
		default:
			st.Pending++
		}
	}
	return st
}
