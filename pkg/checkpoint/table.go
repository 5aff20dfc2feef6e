package checkpoint

// Table is the in-memory form of one matrix file: states keyed by
// signature, kept in matrix order.
type Table struct {
	source string
	order  []string
	rows   map[string]State
}

// NewTable returns an empty table for source.
func NewTable(source string) *Table {
	return &Table{
		source: source,
		rows:   make(map[string]State),
	}
}

// Source returns the matrix file identifier.
func (t *Table) Source() string {
	return t.source
}

// Len returns the number of distinct signatures.
func (t *Table) Len() int {
	return len(t.order)
}

// Upsert stores state under its signature. An existing row keeps its
// position; its content is replaced by the new row merged so that
// PagesRetrieved and Completion never decrease. Returns the stored state.
func (t *Table) Upsert(state State) State {
	sig := state.Signature()
	if prev, ok := t.rows[sig]; ok {
		state = merge(prev, state)
	} else {
		t.order = append(t.order, sig)
	}
	t.rows[sig] = state
	return state
}

// Get returns the current state of a signature.
func (t *Table) Get(signature string) (State, bool) {
	s, ok := t.rows[signature]
	return s, ok
}

// States returns a snapshot of all states in matrix order.
func (t *Table) States() []State {
	out := make([]State, 0, len(t.order))
	for _, sig := range t.order {
		out = append(out, t.rows[sig])
	}
	return out
}
