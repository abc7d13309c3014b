package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
)

var log = config.NamedLogger("storage")

// Store persists runs. Implementations are safe for concurrent use.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, r *Record) error
	GetRun(ctx context.Context, id string) (*Record, bool, error)
	ListRuns(ctx context.Context) ([]RunMetadata, error)
}

// NewStore builds the backend named by cfg.Backend. The sqlite backend
// needs the sqlite build tag.
func NewStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir), nil
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// Find returns the run whose ID is id or starts with it. An ambiguous
// prefix is an error.
func Find(ctx context.Context, s Store, id string) (*Record, error) {
	if r, ok, err := s.GetRun(ctx, id); err != nil || ok {
		return r, err
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var match []string
	for _, m := range runs {
		if strings.HasPrefix(m.ID, id) {
			match = append(match, m.ID)
		}
	}
	switch len(match) {
	case 0:
		return nil, fmt.Errorf("%w: run %q", dynamo.ErrNotAvailable, id)
	case 1:
		r, _, err := s.GetRun(ctx, match[0])
		return r, err
	}
	return nil, fmt.Errorf("run prefix %q is ambiguous: %s", id, strings.Join(match, ", "))
}

// sortRuns orders runs from the oldest to the newest.
func sortRuns(runs []RunMetadata) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
}
