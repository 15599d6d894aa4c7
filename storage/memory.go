package storage

import (
	"sort"
	"sync"
)

// MemDB is an in-memory Database used by tests and by single-process tools
// that don't need persistence.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

// Collection returns the named top-level collection.
func (m *MemDB) Collection(name string) Collection {
	return &memCollection{db: m, prefix: []byte(name)}
}

// Close is a no-op for MemDB.
func (m *MemDB) Close() error { return nil }

type memCollection struct {
	db     *MemDB
	prefix []byte
}

func (c *memCollection) physicalKey(key string) string {
	return string(physicalPrefix(c.prefix, key))
}

func (c *memCollection) Get(key string) ([]byte, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	v, ok := c.db.data[c.physicalKey(key)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return v, nil
}

func (c *memCollection) Put(key string, value []byte) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.data[c.physicalKey(key)] = append([]byte(nil), value...)
	return nil
}

func (c *memCollection) Del(key string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	delete(c.db.data, c.physicalKey(key))
	return nil
}

func (c *memCollection) Partition(name string) Collection {
	child := make([]byte, 0, len(c.prefix)+len(separator)+len(name))
	child = append(child, c.prefix...)
	child = append(child, separator...)
	child = append(child, []byte(name)...)
	return &memCollection{db: c.db, prefix: child}
}

func (c *memCollection) sortedEntries(prefix string) []Entry {
	lower := string(physicalPrefix(c.prefix, prefix))
	relLen := len(c.prefix) + len(separator)

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	entries := make([]Entry, 0, len(c.db.data))
	for k, v := range c.db.data {
		if len(k) < len(lower) || k[:len(lower)] != lower {
			continue
		}
		entries = append(entries, Entry{Key: k[relLen:], Value: append([]byte(nil), v...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func (c *memCollection) Iter(prefix string, reverse bool) Iterator {
	entries := c.sortedEntries(prefix)
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return &memIterator{entries: entries, idx: -1}
}

func (c *memCollection) Page(prefix string, from *string, n int) ([]Entry, error) {
	return pageFromEntries(c.sortedEntries(prefix), from, n)
}

type memIterator struct {
	entries []Entry
	idx     int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *memIterator) Entry() Entry { return it.entries[it.idx] }
func (it *memIterator) Err() error   { return nil }
func (it *memIterator) Close() error { return nil }
