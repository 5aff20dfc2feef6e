package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/query"
	"github.com/Sternrassler/flightstatus-harvester/pkg/storage"
)

// BackupSuffix is appended to a matrix file name for its backup twin.
const BackupSuffix = ".bak"

// ErrNoMatrix is returned when neither a matrix file nor its backup exists.
var ErrNoMatrix = errors.New("matrix file not found")

// Options configures a Store.
type Options struct {
	// Dir is the directory holding matrix files, relative to the backend root.
	Dir string
	// Expand is passed to the query expander when a file is loaded.
	Expand query.ExpandOptions
	// ReadOnly makes Load neither snapshot nor restore files, and Save fail.
	ReadOnly bool
}

// ErrReadOnly is returned by Save on a read-only store.
var ErrReadOnly = errors.New("checkpoint store is read-only")

// Store loads and saves matrix files through a storage backend.
type Store struct {
	backend storage.Backend
	opts    Options
	logger  zerolog.Logger
}

// NewStore creates a checkpoint store.
func NewStore(backend storage.Backend, opts Options, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
	}
}

// Sources lists the matrix files in the store's directory, sorted. A file
// whose primary is gone but whose backup twin remains is listed under its
// primary name so Load can recover it.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	names, err := s.backend.List(ctx, s.prefix())
	if err != nil {
		return nil, fmt.Errorf("list matrix files: %w", err)
	}

	seen := make(map[string]struct{}, len(names))
	sources := make([]string, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		switch {
		case strings.HasSuffix(base, ".csv"):
		case strings.HasSuffix(base, BackupSuffix):
			base = strings.TrimSuffix(base, BackupSuffix) + ".csv"
		default:
			continue
		}
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		sources = append(sources, base)
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *Store) prefix() string {
	if s.opts.Dir == "" {
		return ""
	}
	return strings.TrimSuffix(s.opts.Dir, "/") + "/"
}

func (s *Store) objectName(sourceID string) string {
	return s.prefix() + sourceID
}

func backupName(name string) string {
	return strings.TrimSuffix(name, ".csv") + BackupSuffix
}

// Load reads a matrix file. A readable primary is first copied to its
// backup twin; an unreadable one is recovered from the twin, which is then
// promoted back to the primary name.
func (s *Store) Load(ctx context.Context, sourceID string) (*Table, error) {
	name := s.objectName(sourceID)
	bak := backupName(name)

	data, primaryErr := s.backend.ReadFile(ctx, name)
	var records []record
	if primaryErr == nil {
		records, primaryErr = decodeRecords(data)
	}

	if primaryErr == nil {
		if s.opts.ReadOnly {
			return s.buildTable(sourceID, records)
		}
		if err := s.backend.WriteFile(ctx, bak, data); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", bak, err)
		}
	} else {
		s.logger.Warn().Err(primaryErr).Str("source", sourceID).Msg("Matrix file unreadable, trying backup")

		bakData, err := s.backend.ReadFile(ctx, bak)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) && errors.Is(primaryErr, storage.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNoMatrix, sourceID)
			}
			return nil, fmt.Errorf("load %s: %v; backup: %w", sourceID, primaryErr, err)
		}
		if records, err = decodeRecords(bakData); err != nil {
			return nil, fmt.Errorf("load backup %s: %w", bak, err)
		}
		if s.opts.ReadOnly {
			return s.buildTable(sourceID, records)
		}
		if err := s.backend.WriteFile(ctx, name, bakData); err != nil {
			return nil, fmt.Errorf("restore %s from backup: %w", name, err)
		}
		s.logger.Info().Str("source", sourceID).Msg("Matrix file restored from backup")
	}

	return s.buildTable(sourceID, records)
}

func (s *Store) buildTable(sourceID string, records []record) (*Table, error) {
	rows := make([]query.Row, len(records))
	for i := range records {
		rows[i] = records[i].row()
	}

	specs, err := query.Expand(rows, s.opts.Expand)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sourceID, err)
	}

	table := NewTable(sourceID)
	for i, spec := range specs {
		state, err := toState(spec, records[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sourceID, &query.MalformedMatrixError{Row: i, Reason: err.Error()})
		}
		table.Upsert(state)
	}

	s.logger.Debug().
		Str("source", sourceID).
		Int("rows", len(records)).
		Int("queries", table.Len()).
		Msg("Matrix loaded")

	return table, nil
}

// Save writes the table to its backup twin and then replaces the primary.
// Either copy is complete at any point in time.
func (s *Store) Save(ctx context.Context, table *Table) error {
	if s.opts.ReadOnly {
		return fmt.Errorf("save %s: %w", table.Source(), ErrReadOnly)
	}
	states := table.States()
	records := make([]record, len(states))
	for i, st := range states {
		records[i] = fromState(st)
	}

	data, err := encodeRecords(records)
	if err != nil {
		return err
	}

	name := s.objectName(table.Source())
	if err := s.backend.WriteFile(ctx, backupName(name), data); err != nil {
		return fmt.Errorf("write backup of %s: %w", table.Source(), err)
	}
	if err := s.backend.WriteFile(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", table.Source(), err)
	}
	return nil
}

// Record upserts state into table and persists the table immediately.
func (s *Store) Record(ctx context.Context, table *Table, state State) (State, error) {
	stored := table.Upsert(state)
	if err := s.Save(ctx, table); err != nil {
		return stored, err
	}
	return stored, nil
}
