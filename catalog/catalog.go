package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// schemaPrefix is the sole persisted catalog root. An earlier revision
// additionally kept schema under /_catalog/<typeName>; that path is
// gone; every entity's schema now lives at exactly one place.
var schemaPrefix = tuple.New([]byte("/_schema/"))

// cacheEntry pairs a decoded schema with the wall-clock time it was
// loaded, so Get can decide whether the cached copy is still fresh
// without a second map lookup.
type cacheEntry struct {
	schema  *EntitySchema
	loaded  time.Time
}

// Catalog is the process-wide, TTL-cached view over persisted entity
// schema. It never outlives the kv.Store it was built against: Get
// opens a read transaction on cache miss or expiry, Invalidate forgets
// a cached entry without touching storage, and Put persists a new or
// updated schema and evicts the old cached copy in one call.
type Catalog struct {
	store kv.Store
	ttl   time.Duration

	mu    sync.Mutex
	cache *lru.Cache
}

// defaultCacheSize bounds the number of distinct entity schemas held in
// memory at once; a process touching more entity types than this will
// simply re-fetch the least recently used ones.
const defaultCacheSize = 1024

// New builds a Catalog backed by store, caching decoded schema for ttl
// before considering it stale.
func New(store kv.Store, ttl time.Duration) (*Catalog, error) {
	c, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "catalog: building lru cache: %v", err)
	}
	return &Catalog{store: store, ttl: ttl, cache: c}, nil
}

// Get returns the schema for entityName, serving a fresh cache entry
// when available and otherwise reading through to the store.
func (c *Catalog) Get(ctx context.Context, entityName string) (*EntitySchema, error) {
	if s, ok := c.lookup(entityName); ok {
		return s, nil
	}

	var schema *EntitySchema
	err := c.store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		key := schemaPrefix.Pack(tuple.Tuple{entityName})
		val, err := tx.GetValue(key)
		if err != nil {
			return err
		}
		if val == nil {
			return ixerr.Wrap(ixerr.NotFound, "catalog: no schema for entity %q", entityName)
		}
		var s EntitySchema
		if err := json.Unmarshal(val, &s); err != nil {
			return ixerr.Wrap(ixerr.InvalidStructure, "catalog: decoding schema for %q: %v", entityName, err)
		}
		schema = &s
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.remember(entityName, schema)
	return schema, nil
}

// Put persists schema and invalidates any cached copy for its entity,
// so the next Get re-reads the new version rather than serving stale
// descriptors for up to the remainder of the TTL window.
func (c *Catalog) Put(ctx context.Context, schema *EntitySchema) error {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "catalog: encoding schema for %q: %v", schema.Name, err)
	}
	key := schemaPrefix.Pack(tuple.Tuple{schema.Name})
	err = c.store.Transact(ctx, func(tx kv.Transaction) error {
		tx.SetValue(key, encoded)
		return nil
	})
	if err != nil {
		return err
	}
	c.Invalidate(schema.Name)
	return nil
}

// Invalidate drops any cached schema for entityName. Callers mutating
// index descriptors for an entity outside of Put (e.g. a state
// transition recorded in state.go) must call this so readers don't
// observe the old descriptor list until the TTL would have expired it
// anyway.
func (c *Catalog) Invalidate(entityName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(entityName)
}

func (c *Catalog) lookup(entityName string) (*EntitySchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(entityName)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if time.Since(entry.loaded) > c.ttl {
		c.cache.Remove(entityName)
		return nil, false
	}
	return entry.schema, true
}

func (c *Catalog) remember(entityName string, schema *EntitySchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(entityName, cacheEntry{schema: schema, loaded: time.Now()})
}
