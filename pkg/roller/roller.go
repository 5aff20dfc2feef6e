// Package roller advances date-bounded queries. Once every window of a
// query family is fully retrieved, new one-day windows are appended until
// the newest window ends within the lookahead horizon.
package roller

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/checkpoint"
	"github.com/Sternrassler/flightstatus-harvester/pkg/query"
)

// DefaultLookaheadDays is how far ahead of today windows are created.
const DefaultLookaheadDays = 30

// Window is the span of one rolled query.
const Window = 24 * time.Hour

// Roller appends date windows to complete query families.
type Roller struct {
	LookaheadDays int
	// Now returns the current time; defaults to time.Now.
	Now    func() time.Time
	logger zerolog.Logger
}

// New creates a roller.
func New(lookaheadDays int, logger zerolog.Logger) *Roller {
	return &Roller{
		LookaheadDays: lookaheadDays,
		Now:           time.Now,
		logger:        logger,
	}
}

type family struct {
	key      string
	latest   query.Spec
	end      time.Time
	complete bool
	invalid  bool
}

// Roll returns the new specs to append, in family order. States without a
// date range do not belong to any rollable family.
func (r *Roller) Roll(states []checkpoint.State) []query.Spec {
	families := make(map[string]*family)
	var order []string

	for _, st := range states {
		if st.Spec.EndRange() == "" {
			continue
		}

		key := st.Spec.Family()
		f, ok := families[key]
		if !ok {
			f = &family{key: key, complete: true}
			families[key] = f
			order = append(order, key)
		}

		if !st.IsComplete() {
			f.complete = false
		}

		end, err := query.ParseRangeTime(st.Spec.EndRange())
		if err != nil {
			f.invalid = true
			continue
		}
		if f.latest.Len() == 0 || end.After(f.end) {
			f.latest = st.Spec
			f.end = end
		}
	}

	today := r.Now()
	var out []query.Spec
	for _, key := range order {
		f := families[key]
		switch {
		case f.invalid:
			r.logger.Warn().Str("family", key).Msg("Unparseable endRange, family not rolled")
			continue
		case !f.complete:
			continue
		}

		added := r.rollFamily(f, today)
		if len(added) > 0 {
			r.logger.Info().
				Str("family", key).
				Int("windows", len(added)).
				Str("until", added[len(added)-1].EndRange()).
				Msg("Rolled date windows")
		}
		out = append(out, added...)
	}
	return out
}

func (r *Roller) rollFamily(f *family, now time.Time) []query.Spec {
	var out []query.Spec
	end := f.end
	for daysBetween(now, end) < r.LookaheadDays {
		next := f.latest.
			With(query.FieldStartRange, query.FormatRangeTime(end.Add(time.Second))).
			With(query.FieldEndRange, query.FormatRangeTime(end.Add(Window)))
		out = append(out, next)
		end = end.Add(Window)
	}
	return out
}

// daysBetween counts calendar days from the local date of now to the
// date written in end.
func daysBetween(now, end time.Time) int {
	ny, nm, nd := now.Local().Date()
	ey, em, ed := end.Date()
	from := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
