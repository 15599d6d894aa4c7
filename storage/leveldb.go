package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is the persistent Database backend, backed by goleveldb. Every
// top-level Collection and its descendant partitions share the single
// underlying *leveldb.DB; isolation between them comes entirely from key
// prefixing (see physicalPrefix).
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB creates or opens a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Collection returns the named top-level collection.
func (l *LevelDB) Collection(name string) Collection {
	return &levelCollection{db: l.db, prefix: []byte(name)}
}

// Close closes the underlying database file.
func (l *LevelDB) Close() error { return l.db.Close() }

type levelCollection struct {
	db     *leveldb.DB
	prefix []byte
}

func (c *levelCollection) physicalKey(key string) []byte {
	return physicalPrefix(c.prefix, key)
}

func (c *levelCollection) Get(key string) ([]byte, error) {
	v, err := c.db.Get(c.physicalKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *levelCollection) Put(key string, value []byte) error {
	return c.db.Put(c.physicalKey(key), value, nil)
}

func (c *levelCollection) Del(key string) error {
	return c.db.Delete(c.physicalKey(key), nil)
}

func (c *levelCollection) Partition(name string) Collection {
	child := make([]byte, 0, len(c.prefix)+len(separator)+len(name))
	child = append(child, c.prefix...)
	child = append(child, separator...)
	child = append(child, []byte(name)...)
	return &levelCollection{db: c.db, prefix: child}
}

func (c *levelCollection) Iter(prefix string, reverse bool) Iterator {
	rng := &util.Range{
		Start: physicalPrefix(c.prefix, prefix),
		Limit: rangeUpperBound(physicalPrefix(c.prefix, prefix)),
	}
	it := c.db.NewIterator(rng, nil)
	return &levelIterator{it: it, relPrefixLen: len(c.prefix) + len(separator), reverse: reverse, started: false}
}

func (c *levelCollection) Page(prefix string, from *string, n int) ([]Entry, error) {
	entries, err := c.collect(prefix)
	if err != nil {
		return nil, err
	}
	return pageFromEntries(entries, from, n)
}

func (c *levelCollection) collect(prefix string) ([]Entry, error) {
	it := c.Iter(prefix, false)
	defer it.Close()
	var out []Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

// levelIterator walks a goleveldb iterator either forward or, for reverse
// scans, by seeking to the end and walking Prev; goleveldb has no native
// reverse-range iterator.
type levelIterator struct {
	it           iterator
	relPrefixLen int
	reverse      bool
	started      bool
	err          error
}

// iterator is the subset of leveldb.Iterator this package depends on; kept
// as an interface so tests can stand in a fake.
type iterator interface {
	Next() bool
	Prev() bool
	Last() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (it *levelIterator) Next() bool {
	if it.err != nil {
		return false
	}
	var ok bool
	if it.reverse {
		if !it.started {
			it.started = true
			ok = it.it.Last()
		} else {
			ok = it.it.Prev()
		}
	} else {
		ok = it.it.Next()
	}
	if !ok {
		it.err = it.it.Error()
		return false
	}
	return true
}

func (it *levelIterator) Entry() Entry {
	key := it.it.Key()
	rel := string(key[it.relPrefixLen:])
	val := append([]byte(nil), it.it.Value()...)
	return Entry{Key: rel, Value: val}
}

func (it *levelIterator) Err() error { return it.err }

func (it *levelIterator) Close() error {
	it.it.Release()
	return nil
}
