// Package storage implements the node's Store abstraction: ordered keyed
// collections with prefix iteration, partitions, and cursor pagination.
// The rest of the core only ever depends on the Database and Collection
// interfaces defined here; concrete backends live in leveldb.go and
// memory.go.
package storage

import (
	"errors"
	"sort"
)

// separator is U+10FFFF, the last Unicode code point, encoded as UTF-8. No
// identifier or key payload produced elsewhere in the core emits this
// sequence, so it safely delimits partitions: it sorts after every byte
// sequence a normal key can contain, and a scan bounded by
// [prefix+separator, prefix+separator+0xFF] enumerates exactly one
// partition without bleeding into a lexicographic sibling.
var separator = []byte{0xF4, 0x8F, 0xBF, 0xBF}

// ErrEntryNotFound is returned when a cursor names a key absent from the
// collection, or Get misses.
var ErrEntryNotFound = errors.New("storage: entry not found")

// Entry is a single key/value pair returned by iteration.
type Entry struct {
	Key   string
	Value []byte
}

// Iterator walks a Collection's entries in key order (or reverse order).
// It must be closed after use.
type Iterator interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// Database opens named top-level Collections and owns the backing storage
// engine's lifecycle.
type Database interface {
	Collection(name string) Collection
	Close() error
}

// Collection is an ordered mapping from string keys to opaque byte values,
// scoped to one logical namespace (or partition of one). All operations
// are relative to the collection's own key space.
type Collection interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Del(key string) error
	Iter(prefix string, reverse bool) Iterator
	// Partition returns the child collection identified by name, composed
	// under this collection by prefix composition using the U+10FFFF
	// separator.
	Partition(name string) Collection
	// Page implements the cursor pagination semantics: n>=0 with
	// from==nil returns the first n entries with the given prefix; n<0
	// with from==nil returns the last |n| entries; from!=nil returns n
	// entries strictly after (or before, for negative n) the named key,
	// in the direction of sign(n). A named from key absent from the
	// collection fails ErrEntryNotFound.
	Page(prefix string, from *string, n int) ([]Entry, error)
}

func physicalPrefix(collectionPrefix []byte, relPrefix string) []byte {
	out := make([]byte, 0, len(collectionPrefix)+len(separator)+len(relPrefix))
	out = append(out, collectionPrefix...)
	out = append(out, separator...)
	out = append(out, []byte(relPrefix)...)
	return out
}

// rangeUpperBound returns the exclusive upper bound for a prefix scan: the
// prefix followed by the separator's maximum byte, which sorts after any
// suffix a real key can carry.
func rangeUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = 0xFF
	return out
}

// pageFromEntries applies the cursor pagination semantics over an already
// key-ordered (ascending) slice of entries.
func pageFromEntries(entries []Entry, from *string, n int) ([]Entry, error) {
	if from == nil {
		if n >= 0 {
			if n > len(entries) {
				n = len(entries)
			}
			return append([]Entry(nil), entries[:n]...), nil
		}
		k := -n
		if k > len(entries) {
			k = len(entries)
		}
		return append([]Entry(nil), entries[len(entries)-k:]...), nil
	}

	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= *from })
	if idx >= len(entries) || entries[idx].Key != *from {
		return nil, ErrEntryNotFound
	}

	if n >= 0 {
		start := idx + 1
		end := start + n
		if end > len(entries) {
			end = len(entries)
		}
		if start > len(entries) {
			start = len(entries)
		}
		return append([]Entry(nil), entries[start:end]...), nil
	}
	k := -n
	end := idx
	start := end - k
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), entries[start:end]...), nil
}

// SnHexKey formats a sequence number as the 16-hex-digit zero-padded
// big-endian key used for event/signature collections, so lexicographic
// order equals numeric order.
func SnHexKey(sn uint64) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexDigits[sn&0xF]
		sn >>= 4
	}
	return string(b)
}
