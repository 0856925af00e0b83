// Package runcache is a read-through cache over the catalog tables that
// lives for one pipeline run. Source databases, recognition systems and
// their links change rarely and are read for every file and every link, so
// each lookup goes to the database at most once per run.
package runcache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// notFound is cached for names that have no row, so unknown source
// databases do not cost a query per file.
type notFound struct{ err error }

// Cache memoizes catalog lookups. Returned values are shared between
// callers and must not be modified.
type Cache struct {
	catalog repository.CatalogRepository
	items   *cache.Cache
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
	Items  int
}

// New creates an empty cache over catalog. Entries never expire; call
// Reset between runs.
func New(catalog repository.CatalogRepository) *Cache {
	return &Cache{
		catalog: catalog,
		// no janitor goroutine: nothing expires
		items: cache.New(cache.NoExpiration, 0),
	}
}

// Source returns the source database with the given normalized name.
// Returns repository.ErrSourceNotFound for unknown names.
func (c *Cache) Source(ctx context.Context, name string) (*entities.SourceDatabase, error) {
	return load(ctx, c, "source:name:"+name, repository.ErrSourceNotFound, func(ctx context.Context) (*entities.SourceDatabase, error) {
		return c.catalog.SourceByName(ctx, name)
	})
}

// SourceByID returns the source database with the given id.
func (c *Cache) SourceByID(ctx context.Context, id uint) (*entities.SourceDatabase, error) {
	return load(ctx, c, fmt.Sprintf("source:id:%d", id), repository.ErrSourceNotFound, func(ctx context.Context) (*entities.SourceDatabase, error) {
		return c.catalog.SourceByID(ctx, id)
	})
}

// System returns the recognition system with the given id.
func (c *Cache) System(ctx context.Context, id uint) (*entities.RecognitionSystem, error) {
	return load(ctx, c, fmt.Sprintf("system:id:%d", id), repository.ErrSystemNotFound, func(ctx context.Context) (*entities.RecognitionSystem, error) {
		return c.catalog.SystemByID(ctx, id)
	})
}

// Systems returns every recognition system.
func (c *Cache) Systems(ctx context.Context) ([]entities.RecognitionSystem, error) {
	return load(ctx, c, "systems", nil, c.catalog.ListSystems)
}

// SystemsForSource returns the recognition systems reachable from a source.
func (c *Cache) SystemsForSource(ctx context.Context, sourceID uint) ([]entities.RecognitionSystem, error) {
	return load(ctx, c, fmt.Sprintf("source:%d:systems", sourceID), nil, func(ctx context.Context) ([]entities.RecognitionSystem, error) {
		return c.catalog.SystemsForSource(ctx, sourceID)
	})
}

// SourcesForSystem returns the source databases linked to a system.
func (c *Cache) SourcesForSystem(ctx context.Context, systemID uint, activeOnly bool) ([]entities.SourceDatabase, error) {
	key := fmt.Sprintf("system:%d:sources:%t", systemID, activeOnly)
	return load(ctx, c, key, nil, func(ctx context.Context) ([]entities.SourceDatabase, error) {
		return c.catalog.SourcesForSystem(ctx, systemID, activeOnly)
	})
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.items.Flush()
}

// Stats returns hit and miss counters since creation.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Items:  c.items.ItemCount(),
	}
}

// load returns the cached value for key or calls fn once, even under
// concurrent callers. When sentinel is non-nil, an fn error matching it is
// cached as well.
func load[T any](ctx context.Context, c *Cache, key string, sentinel error, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.items.Get(key); ok {
		c.hits.Add(1)
		if nf, isMiss := v.(notFound); isMiss {
			return zero, nf.err
		}
		return v.(T), nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		v, err := fn(ctx)
		switch {
		case err == nil:
			c.items.Set(key, v, cache.NoExpiration)
		case sentinel != nil && errors.Is(err, sentinel):
			c.items.Set(key, notFound{err: err}, cache.NoExpiration)
		}
		return v, err
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
