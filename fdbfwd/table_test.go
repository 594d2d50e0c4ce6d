package fdbfwd_test

import (
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/carlmontanari/fdbfwd/fdbfwd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedEntries(t *testing.T, tbl fdbfwd.Table) []fdbfwd.Entry {
	t.Helper()

	entries, err := tbl.Entries()
	require.NoError(t, err)

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})

	return entries
}

func testTableBasic(t *testing.T, tbl fdbfwd.Table) {
	k1 := newKey(t, 10, "aa:bb:cc:dd:ee:01")
	k2 := newKey(t, 20, "aa:bb:cc:dd:ee:01")

	// empty
	_, err := tbl.Lookup(k1)
	require.ErrorIs(t, err, fdbfwd.ErrKeyNotExist)
	require.Empty(t, sortedEntries(t, tbl))

	// put and read back
	require.NoError(t, tbl.Put(k1, 7))

	ifindex, err := tbl.Lookup(k1)
	require.NoError(t, err)
	require.Equal(t, uint32(7), ifindex)

	// same mac, other vlan is another key
	_, err = tbl.Lookup(k2)
	require.ErrorIs(t, err, fdbfwd.ErrKeyNotExist)

	require.NoError(t, tbl.Put(k2, 8))

	// update
	require.NoError(t, tbl.Put(k1, 9))

	ifindex, err = tbl.Lookup(k1)
	require.NoError(t, err)
	require.Equal(t, uint32(9), ifindex)

	require.Equal(
		t,
		[]fdbfwd.Entry{{Key: k1, Ifindex: 9}, {Key: k2, Ifindex: 8}},
		sortedEntries(t, tbl),
	)

	// invalid keys are refused
	require.ErrorIs(t, tbl.Put(fdbfwd.Key{VLAN: 0}, 1), fdbfwd.ErrInvalidKey)
	require.ErrorIs(t, tbl.Put(fdbfwd.Key{VLAN: 4095}, 1), fdbfwd.ErrInvalidKey)

	// delete
	require.NoError(t, tbl.Delete(k1))
	require.ErrorIs(t, tbl.Delete(k1), fdbfwd.ErrKeyNotExist)

	_, err = tbl.Lookup(k1)
	require.ErrorIs(t, err, fdbfwd.ErrKeyNotExist)

	require.Equal(t, []fdbfwd.Entry{{Key: k2, Ifindex: 8}}, sortedEntries(t, tbl))
}

func testTableCapacity(t *testing.T, tbl fdbfwd.Table) {
	k1 := newKey(t, 1, "02:00:00:00:00:01")
	k2 := newKey(t, 1, "02:00:00:00:00:02")
	k3 := newKey(t, 1, "02:00:00:00:00:03")

	require.NoError(t, tbl.Put(k1, 1))
	require.NoError(t, tbl.Put(k2, 2))
	require.ErrorIs(t, tbl.Put(k3, 3), fdbfwd.ErrTableFull)

	// updating an existing key still works when full
	require.NoError(t, tbl.Put(k2, 4))

	require.NoError(t, tbl.Delete(k1))
	require.NoError(t, tbl.Put(k3, 3))
}

func TestMemoryTable(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		testTableBasic(t, fdbfwd.NewMemoryTable(0))
	})

	t.Run("capacity", func(t *testing.T) {
		testTableCapacity(t, fdbfwd.NewMemoryTable(2))
	})

	t.Run("keys-differing-in-top-mac-bytes", func(t *testing.T) {
		tbl := fdbfwd.NewMemoryTable(0)
		inTable := newKey(t, 10, "aa:bb:cc:dd:ee:ff")
		notInTable := newKey(t, 10, "02:00:00:dd:ee:ff")

		require.NoError(t, tbl.Put(inTable, 3))

		_, err := tbl.Lookup(notInTable)
		require.ErrorIs(t, err, fdbfwd.ErrKeyNotExist)

		f := fdbfwd.Frame{Data: buildFrame(t, "02:00:00:dd:ee:ff", false, 0, 0), VLANTCI: 10}

		assert.Equal(t, fdbfwd.Pass(), fdbfwd.Decide(tbl, &f))

		require.NoError(t, tbl.Put(notInTable, 4))

		ifindex, err := tbl.Lookup(inTable)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), ifindex)

		ifindex, err = tbl.Lookup(notInTable)
		require.NoError(t, err)
		assert.Equal(t, uint32(4), ifindex)
		assert.Equal(t, 2, tbl.Len())
	})

	t.Run("concurrent-readers-and-writer", func(t *testing.T) {
		tbl := fdbfwd.NewMemoryTable(0)
		k := newKey(t, 10, "aa:bb:cc:dd:ee:ff")

		wg := &sync.WaitGroup{}

		for range 4 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for range 1000 {
					ifindex, err := tbl.Lookup(k)
					if err == nil {
						assert.Contains(t, []uint32{1, 2}, ifindex)
					}
				}
			}()
		}

		for i := range 1000 {
			assert.NoError(t, tbl.Put(k, uint32(i%2+1)))
		}

		wg.Wait()
	})
}

func TestBoltTable(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		tbl, err := fdbfwd.OpenBoltTable(
			filepath.Join(t.TempDir(), "fdb.db"), fdbfwd.BoltOptions{},
		)
		require.NoError(t, err)

		defer tbl.Close()

		testTableBasic(t, tbl)
	})

	t.Run("capacity", func(t *testing.T) {
		tbl, err := fdbfwd.OpenBoltTable(
			filepath.Join(t.TempDir(), "fdb.db"), fdbfwd.BoltOptions{MaxEntries: 2},
		)
		require.NoError(t, err)

		defer tbl.Close()

		testTableCapacity(t, tbl)
	})

	t.Run("outlives-writer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fdb.db")
		k := newKey(t, 10, "aa:bb:cc:dd:ee:ff")

		writer, err := fdbfwd.OpenBoltTable(path, fdbfwd.BoltOptions{})
		require.NoError(t, err)
		require.NoError(t, writer.Put(k, 7))
		require.NoError(t, writer.Close())

		reader, err := fdbfwd.OpenBoltTable(path, fdbfwd.BoltOptions{ReadOnly: true})
		require.NoError(t, err)

		defer reader.Close()

		ifindex, err := reader.Lookup(k)
		require.NoError(t, err)
		require.Equal(t, uint32(7), ifindex)
		require.Equal(t, path, reader.Path())
	})
}

func TestMirror(t *testing.T) {
	k1 := newKey(t, 10, "aa:bb:cc:dd:ee:01")
	k2 := newKey(t, 10, "aa:bb:cc:dd:ee:02")
	k3 := newKey(t, 10, "aa:bb:cc:dd:ee:03")

	src := fdbfwd.NewMemoryTable(0)
	require.NoError(t, src.Put(k1, 1))
	require.NoError(t, src.Put(k2, 2))

	dst := fdbfwd.NewMemoryTable(0)
	require.NoError(t, dst.Put(k2, 5))
	require.NoError(t, dst.Put(k3, 3))

	written, removed, err := fdbfwd.Mirror(dst, src)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 1, removed)
	assert.Equal(t, sortedEntries(t, src), sortedEntries(t, dst))

	// nothing left to do
	written, removed, err = fdbfwd.Mirror(dst, src)
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Zero(t, removed)
}

func TestMirrorFromBolt(t *testing.T) {
	src, err := fdbfwd.OpenBoltTable(filepath.Join(t.TempDir(), "fdb.db"), fdbfwd.BoltOptions{})
	require.NoError(t, err)

	defer src.Close()

	require.NoError(t, src.Put(newKey(t, 300, "02:00:00:00:00:aa"), 4))

	dst := fdbfwd.NewMemoryTable(0)

	written, removed, err := fdbfwd.Mirror(dst, src)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Zero(t, removed)
	assert.Equal(t, sortedEntries(t, src), sortedEntries(t, dst))
}
