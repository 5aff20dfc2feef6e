package query

import "fmt"

// Row is one line of a query matrix: a partial field -> value mapping.
type Row map[string]string

// ExpandOptions controls matrix validation.
type ExpandOptions struct {
	// RequireDateRange rejects rows that carry neither startRange nor endRange.
	// Without dates the API answers for "today" and progress cannot be tracked.
	RequireDateRange bool
}

// Expand turns matrix rows into specs, preserving row order.
func Expand(rows []Row, opts ExpandOptions) ([]Spec, error) {
	specs := make([]Spec, 0, len(rows))
	for i, row := range rows {
		for k, v := range row {
			if !IsField(k) && !IsMissing(v) {
				return nil, &MalformedMatrixError{Row: i, Reason: fmt.Sprintf("unknown filter field %q", k)}
			}
		}

		spec := NewSpec(row)
		if opts.RequireDateRange && spec.StartRange() == "" && spec.EndRange() == "" {
			return nil, &MalformedMatrixError{Row: i, Reason: "row has neither startRange nor endRange"}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
