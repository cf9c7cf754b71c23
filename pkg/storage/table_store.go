package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"slices"
	"time"

	"robot-qlearning/internal/rl"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TableStore loads, initializes and saves Q-tables on a Backend
type TableStore struct {
	backend Backend
	actions []string
	runID   string
	log     *logrus.Entry
}

// StoreOption configures a TableStore
type StoreOption func(*TableStore)

// WithActionNames records action names in every saved envelope and checks
// them on load
func WithActionNames(names []string) StoreOption {
	return func(s *TableStore) { s.actions = append([]string(nil), names...) }
}

// WithStoreRunID tags saved envelopes with the training run
func WithStoreRunID(id string) StoreOption {
	return func(s *TableStore) { s.runID = id }
}

// NewTableStore wraps a backend
func NewTableStore(b Backend, opts ...StoreOption) *TableStore {
	s := &TableStore{backend: b, log: logrus.NewEntry(logger.GetLogger())}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID != "" {
		s.log = s.log.WithField("run_id", s.runID)
	}
	return s
}

// Open builds the backend selected by the persistence configuration
func Open(cfg config.PersistenceConfig) (Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		path := cfg.SQLiteFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ModelsPath, path)
		}
		return NewSQLiteBackend(path)
	case "file", "":
		return NewFileBackend(cfg.ModelsPath, cfg.BackupCount)
	default:
		return nil, &config.ConfigurationError{Field: "persistence.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// Backend returns the underlying backend
func (s *TableStore) Backend() Backend { return s.backend }

// Close closes the backend
func (s *TableStore) Close() error { return s.backend.Close() }

// Inspect loads a table together with its envelope metadata
func (s *TableStore) Inspect(ctx context.Context, key string) (*Envelope, rl.Table, error) {
	blob, err := s.backend.Read(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	env, t, err := Decode(blob.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", key, err)
	}
	return env, t, nil
}

// Load returns the table stored under key. It fails with ErrNotFound if
// there is none and ErrCorrupt if it cannot be decoded
func (s *TableStore) Load(ctx context.Context, key string) (rl.Table, error) {
	_, t, err := s.Inspect(ctx, key)
	return t, err
}

// Save atomically replaces the table stored under key
func (s *TableStore) Save(ctx context.Context, key string, t rl.Table) error {
	meta := Meta{
		Actions:  s.actions,
		Revision: uuid.New().String(),
		RunID:    s.runID,
		SavedAt:  time.Now(),
	}
	data, err := Encode(t, meta)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, key, Blob{Data: data, Revision: meta.Revision, SavedAt: meta.SavedAt}); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	s.log.WithFields(logrus.Fields{
		"key":      key,
		"revision": meta.Revision,
		"rows":     t.Len(),
	}).Debug("Q-table written")
	return nil
}

// Initialize loads the table under key, or builds a fresh one from params and
// saves it immediately. A stored table of a different shape or action set
// is rejected with *config.ConfigurationError. A stored table of another
// encoding is converted to the configured one
func (s *TableStore) Initialize(ctx context.Context, key string, params *rl.Params, rng *rand.Rand) (rl.Table, bool, error) {
	env, t, err := s.Inspect(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		t, err := params.NewTable(rng)
		if err != nil {
			return nil, false, err
		}
		if err := s.Save(ctx, key, t); err != nil {
			return nil, false, err
		}
		s.log.WithFields(logrus.Fields{"key": key, "shape": t.Shape().String(), "encoding": t.Encoding()}).
			Info("Created new Q-table")
		return t, true, nil
	default:
		return nil, false, err
	}
	t, err = s.checkStored(key, env, t, params)
	return t, false, err
}

// LoadFor loads the table under key for params without ever creating one.
// A missing table fails with ErrNotFound; a mismatched one as in Initialize
func (s *TableStore) LoadFor(ctx context.Context, key string, params *rl.Params) (rl.Table, error) {
	env, t, err := s.Inspect(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.checkStored(key, env, t, params)
}

func (s *TableStore) checkStored(key string, env *Envelope, t rl.Table, params *rl.Params) (rl.Table, error) {
	if t.Shape() != params.Shape() {
		return nil, &config.ConfigurationError{
			Field:  "persistence.table_path",
			Reason: fmt.Sprintf("stored table %s has shape %s, configuration expects %s", key, t.Shape(), params.Shape()),
		}
	}
	if want := params.Actions.Names(); len(env.Actions) > 0 && !slices.Equal(env.Actions, want) {
		return nil, &config.ConfigurationError{
			Field:  "rl.actions",
			Reason: fmt.Sprintf("stored table %s was trained with actions %v, configuration has %v", key, env.Actions, want),
		}
	}
	if t.Encoding() != params.TableEncoding {
		var err error
		if t, err = rl.Convert(t, params.TableEncoding); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"key":      key,
		"revision": env.Revision,
		"saved_at": env.SavedAt,
		"rows":     t.Len(),
	}).Info("Loaded existing Q-table")
	return t, nil
}

// Bind returns a persister that always saves under key
func (s *TableStore) Bind(key string) *BoundStore {
	return &BoundStore{store: s, key: key}
}

// BoundStore saves to a fixed key
type BoundStore struct {
	store *TableStore
	key   string
}

func (b *BoundStore) Save(ctx context.Context, t rl.Table) error {
	return b.store.Save(ctx, b.key, t)
}
