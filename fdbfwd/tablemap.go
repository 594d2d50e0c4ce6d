package fdbfwd

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"
)

// MapTable is a Table backed by a kernel bpf hash map -- the same map the tc forwarding program
// reads. The map lives in the kernel, independent of this process.
type MapTable struct {
	h *MapHandle
}

// NewMapTable wraps a resolved map handle. The handle must refer to a hash map with the fdb key
// and value sizes; the table takes ownership of the handle either way.
func NewMapTable(h Handle) (*MapTable, error) {
	mh, ok := h.(*MapHandle)
	if !ok {
		_ = h.Close()

		return nil, fmt.Errorf("%w: %s handle is not a kernel map", ErrWrongObjectType, h.Kind())
	}

	m := mh.Map()

	err := checkMapGeometry(mh.Name(), m.Type(), m.KeySize(), m.ValueSize())
	if err != nil {
		_ = mh.Close()

		return nil, err
	}

	return &MapTable{h: mh}, nil
}

// checkMapGeometry accepts only maps laid out like the tc program's fdb map: a hash map with the
// 8 byte key and 4 byte value.
func checkMapGeometry(name string, typ ebpf.MapType, keyLen, valueLen uint32) error {
	if typ != ebpf.Hash {
		return fmt.Errorf(
			"%w: map %q is a %s map, fdb maps are %s maps", ErrWrongObjectType, name, typ, ebpf.Hash,
		)
	}

	if keyLen != keySize || valueLen != valueSize {
		return fmt.Errorf(
			"%w: map %q has key/value size %d/%d, fdb maps are %d/%d",
			ErrWrongObjectType, name, keyLen, valueLen, keySize, valueSize,
		)
	}

	return nil
}

// CreateMapTable creates a new fdb hash map named name and, if pinPath is not empty, pins it there
// so it outlives this process.
func CreateMapTable(name, pinPath string, maxEntries int) (*MapTable, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	// kernels before 5.11 charge map memory against RLIMIT_MEMLOCK
	err := rlimit.RemoveMemlock()
	if err != nil {
		return nil, fmt.Errorf("failed removing memlock limit: %w", err)
	}

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Hash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: uint32(maxEntries),
	})
	if err != nil {
		return nil, fmt.Errorf("failed creating fdb map %q: %w", name, err)
	}

	if pinPath != "" {
		err = m.Pin(pinPath)
		if err != nil {
			_ = m.Close()

			return nil, fmt.Errorf("failed pinning fdb map %q at %q: %w", name, pinPath, err)
		}
	}

	h, err := newMapHandle(m)
	if err != nil {
		return nil, err
	}

	return &MapTable{h: h}, nil
}

// Handle returns the map handle backing the table.
func (t *MapTable) Handle() *MapHandle {
	return t.h
}

// Lookup returns the ifindex for k.
func (t *MapTable) Lookup(k Key) (uint32, error) {
	kb := k.Bytes()

	var ifindex uint32

	err := t.h.Map().Lookup(&kb, &ifindex)
	if err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return 0, ErrKeyNotExist
		}

		return 0, err
	}

	return ifindex, nil
}

// Put inserts or updates the entry for k.
func (t *MapTable) Put(k Key, ifindex uint32) error {
	err := k.Validate()
	if err != nil {
		return err
	}

	kb := k.Bytes()

	err = t.h.Map().Update(&kb, &ifindex, ebpf.UpdateAny)
	if errors.Is(err, unix.E2BIG) {
		return fmt.Errorf(
			"%w: cannot add %s, map %q is at capacity", ErrTableFull, k, t.h.Name(),
		)
	}

	return err
}

// Delete removes the entry for k.
func (t *MapTable) Delete(k Key) error {
	kb := k.Bytes()

	err := t.h.Map().Delete(&kb)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return ErrKeyNotExist
	}

	return err
}

// Entries returns every entry in the map. Entries written while iterating may or may not be seen.
func (t *MapTable) Entries() ([]Entry, error) {
	var (
		kb      [keySize]byte
		ifindex uint32
		entries []Entry
	)

	it := t.h.Map().Iterate()

	for it.Next(&kb, &ifindex) {
		var k Key

		err := k.UnmarshalBinary(kb[:])
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{Key: k, Ifindex: ifindex})
	}

	return entries, it.Err()
}

// Close drops this process' reference to the map, the map itself stays as long as it is pinned
// or in use by a program.
func (t *MapTable) Close() error {
	return t.h.Close()
}
