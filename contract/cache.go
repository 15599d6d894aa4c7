package contract

import (
	"sync"

	"kore/identity"
)

// cacheKey is the module cache's composite key: (governance_id, schema_id,
// gov_version), with the governance id held in its wire-form string.
type cacheKey struct {
	GovernanceID string
	SchemaID     string
	GovVersion   uint64
}

// Cache is the module cache. It stores each contract's ModuleRef: the raw
// bytecode plus its source hash. It holds no compiled module; the wasm
// runner compiles ref.Bytecode on every Invoke.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]ModuleRef
}

// NewCache returns an empty module cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]ModuleRef)}
}

// Put registers ref under its own (governance, schema, version) key.
func (c *Cache) Put(ref ModuleRef) {
	key := cacheKey{GovernanceID: ref.GovernanceID.String(), SchemaID: ref.SchemaID, GovVersion: ref.GovVersion}
	c.mu.Lock()
	c.entries[key] = ref
	c.mu.Unlock()
}

// Get returns the cached ModuleRef for (governanceID, schemaID, version).
func (c *Cache) Get(governanceID identity.DigestId, schemaID string, version uint64) (ModuleRef, bool) {
	key := cacheKey{GovernanceID: governanceID.String(), SchemaID: schemaID, GovVersion: version}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.entries[key]
	return ref, ok
}

// InvalidateGovernance drops every cached entry for governanceID. Nothing
// is recompiled and no SourceHash is compared here; an entry returns only
// when a caller Puts a ModuleRef again. No component in this module calls
// it on a GovernanceUpdated notification.
func (c *Cache) InvalidateGovernance(governanceID identity.DigestId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gid := governanceID.String()
	for key := range c.entries {
		if key.GovernanceID == gid {
			delete(c.entries, key)
		}
	}
}
