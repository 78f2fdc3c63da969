package archive

import (
	"context"
	"sort"
	"sync"

	appErr "docpipe/pkg/errors"
)

// MemoryRepository is an in-memory Repository for tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sources  map[string]*Source
	archives map[string]*Archive
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sources:  make(map[string]*Source),
		archives: make(map[string]*Archive),
	}
}

// AddSource registers a source.
func (r *MemoryRepository) AddSource(src *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name] = src
}

// AddArchive registers an archive.
func (r *MemoryRepository) AddArchive(a *Archive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[a.ID] = a
}

// GetSource returns a source by name.
func (r *MemoryRepository) GetSource(_ context.Context, name string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, appErr.New(appErr.SourceNotFound).WithDetail("source_name", name)
	}
	out := *src
	return &out, nil
}

// ListArchiveIDs returns ids for a source in stable order.
func (r *MemoryRepository) ListArchiveIDs(_ context.Context, sourceName string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, a := range r.archives {
		if a.SourceName == sourceName {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteArchives removes every archive for a source.
func (r *MemoryRepository) DeleteArchives(_ context.Context, sourceName string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, a := range r.archives {
		if a.SourceName == sourceName {
			delete(r.archives, id)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteSource removes the source row.
func (r *MemoryRepository) DeleteSource(_ context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; !ok {
		return 0, nil
	}
	delete(r.sources, name)
	return 1, nil
}
