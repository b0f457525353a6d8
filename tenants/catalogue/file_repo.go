// Package catalogue serves tenants from a TOML file and reloads it when the
// file changes on disk.
package catalogue

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ tenants.Repo = (*FileRepo)(nil)

type fileFormat struct {
	Tenants []tenants.Tenant `toml:"tenant"`
}

// FileRepo is a read-only tenants.Repo backed by a TOML catalogue
type FileRepo struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenants.Tenant
}

type Option func(*FileRepo)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *FileRepo) {
		r.logger = logger
	}
}

// Open loads the catalogue at path. Every tenant must pass policy validation or
// the whole file is rejected.
func Open(path string, options ...Option) (*FileRepo, error) {
	r := &FileRepo{
		path:   path,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file. On error the previously loaded tenants stay active.
func (r *FileRepo) Reload() error {
	var f fileFormat
	if _, err := toml.DecodeFile(r.path, &f); err != nil {
		return fmt.Errorf("decode tenant catalogue %s: %w", r.path, err)
	}

	loaded := make(map[string]*tenants.Tenant, len(f.Tenants))
	for i := range f.Tenants {
		t := f.Tenants[i]
		if err := t.Prepare(); err != nil {
			return fmt.Errorf("tenant %q in %s: %w", t.ID, r.path, err)
		}
		if _, dup := loaded[t.ID]; dup {
			return fmt.Errorf("tenant %q defined twice in %s", t.ID, r.path)
		}
		loaded[t.ID] = &t
	}

	r.mu.Lock()
	r.tenants = loaded
	r.mu.Unlock()
	r.logger.Info().Str("path", r.path).Int("tenants", len(loaded)).Msg("tenant catalogue loaded")
	return nil
}

func (r *FileRepo) Get(_ context.Context, tenantID string) (*tenants.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *FileRepo) List(_ context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset < 0 || offset >= len(ids) {
		return nil, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	list := make([]*tenants.Tenant, 0, end-offset)
	for _, id := range ids[offset:end] {
		cp := *r.tenants[id]
		list = append(list, &cp)
	}
	return list, nil
}

// Upsert is unsupported, the catalogue file is the source of truth
func (r *FileRepo) Upsert(context.Context, *tenants.Tenant) error {
	return errors.Wrapf(errors.ErrUnsupported, "tenant catalogue is read-only")
}

// Delete is unsupported, the catalogue file is the source of truth
func (r *FileRepo) Delete(context.Context, string) error {
	return errors.Wrapf(errors.ErrUnsupported, "tenant catalogue is read-only")
}

// Watch reloads the catalogue whenever the file is written, created or
// replaced, then calls onChange. It watches the parent directory because
// editors and config management usually replace files by rename. Watch blocks
// until ctx is done.
func (r *FileRepo) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalogue watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error().Err(err).Msg("tenant catalogue reload failed, keeping previous tenants")
				continue
			}
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("tenant catalogue watcher error")
		}
	}
}
