package fdbfwd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
)

// Table is a forwarding database. Implementations provide single key atomic reads and writes and
// serialize writers themselves; there is no cross key snapshot guarantee.
type Table interface {
	Lookuper
	// Put inserts or updates the entry for k.
	Put(k Key, ifindex uint32) error
	// Delete removes the entry for k, ErrKeyNotExist if there is none.
	Delete(k Key) error
	// Entries returns every entry in the table, in no particular order.
	Entries() ([]Entry, error)
	// Close releases the table. Shared tables outlive Close, it only drops this process' reference.
	Close() error
}

// NewMemoryTable returns an empty in process table holding at most maxEntries entries. If
// maxEntries is not positive DefaultMaxEntries is used.
func NewMemoryTable(maxEntries int) *MemoryTable {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &MemoryTable{
		maxEntries: maxEntries,
		entries:    hashmap.New(uintptr(maxEntries)),
	}
}

// MemoryTable is an in process Table. Reads are lock free, writers are serialized by the table.
type MemoryTable struct {
	maxEntries int

	writeLock sync.Mutex
	entries   *hashmap.HashMap
}

// Lookup returns the ifindex for k.
func (t *MemoryTable) Lookup(k Key) (uint32, error) {
	v, ok := t.entries.GetUintKey(k.packed())
	if !ok {
		return 0, ErrKeyNotExist
	}

	ifindex, _ := v.(uint32)

	return ifindex, nil
}

// Put inserts or updates the entry for k.
func (t *MemoryTable) Put(k Key, ifindex uint32) error {
	err := k.Validate()
	if err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	p := k.packed()

	if _, exists := t.entries.GetUintKey(p); !exists && t.entries.Len() >= t.maxEntries {
		return fmt.Errorf("%w: cannot add %s, table holds %d entries", ErrTableFull, k, t.maxEntries)
	}

	t.entries.Set(p, ifindex)

	return nil
}

// Delete removes the entry for k.
func (t *MemoryTable) Delete(k Key) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	p := k.packed()

	if _, exists := t.entries.GetUintKey(p); !exists {
		return ErrKeyNotExist
	}

	t.entries.Del(p)

	return nil
}

// Entries returns every entry in the table.
func (t *MemoryTable) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, t.entries.Len())

	for kv := range t.entries.Iter() {
		p, ok := kv.Key.(uintptr)
		if !ok {
			continue
		}

		ifindex, _ := kv.Value.(uint32)

		entries = append(entries, Entry{Key: unpackKey(p), Ifindex: ifindex})
	}

	return entries, nil
}

// Len returns the number of entries in the table.
func (t *MemoryTable) Len() int {
	return t.entries.Len()
}

// Close is a noop for the memory table, it exists to satisfy Table.
func (t *MemoryTable) Close() error {
	return nil
}

// Mirror makes dst hold exactly the entries of src: missing or changed entries are put, entries
// not in src are deleted. It returns the number of entries written and removed.
func Mirror(dst Table, src Table) (int, int, error) {
	want, err := src.Entries()
	if err != nil {
		return 0, 0, err
	}

	have, err := dst.Entries()
	if err != nil {
		return 0, 0, err
	}

	wanted := make(map[Key]uint32, len(want))
	for _, e := range want {
		wanted[e.Key] = e.Ifindex
	}

	var written, removed int

	for _, e := range have {
		if _, ok := wanted[e.Key]; ok {
			continue
		}

		err = dst.Delete(e.Key)
		if err != nil && !errors.Is(err, ErrKeyNotExist) {
			return written, removed, err
		}

		removed++
	}

	for _, e := range want {
		current, lookupErr := dst.Lookup(e.Key)
		if lookupErr == nil && current == e.Ifindex {
			continue
		}

		err = dst.Put(e.Key, e.Ifindex)
		if err != nil {
			return written, removed, err
		}

		written++
	}

	return written, removed, nil
}
