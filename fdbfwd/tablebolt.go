package fdbfwd

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("fdb")

var errBoltNoBucket = errors.New("no fdb bucket in bolt db")

// BoltOptions configures OpenBoltTable.
type BoltOptions struct {
	// MaxEntries caps the number of entries, DefaultMaxEntries if not positive.
	MaxEntries int
	// ReadOnly opens the db with a shared lock, any number of read only openers can coexist but a
	// writer cannot open the db while they hold it.
	ReadOnly bool
}

// BoltTable is a Table persisted in a bbolt db file. The file is the shared state, it survives
// the processes that use it as well as reboots.
//
//	The key is the 8 byte shared table key encoding (see Key.Bytes)
//	The value is the ifindex as a big endian uint32
type BoltTable struct {
	path       string
	maxEntries int
	db         *bolt.DB
}

// OpenBoltTable opens (creating if needed and not read only) the bolt backed table at path.
func OpenBoltTable(path string, opts BoltOptions) (*BoltTable, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:  boltOpenTimeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed opening fdb db %q: %w", path, err)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, bucketErr := tx.CreateBucketIfNotExists(boltBucket)

			return bucketErr
		})
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed creating fdb bucket in %q: %w", path, err)
		}
	}

	return &BoltTable{
		path:       path,
		maxEntries: opts.MaxEntries,
		db:         db,
	}, nil
}

// Path returns the db file path.
func (t *BoltTable) Path() string {
	return t.path
}

// Lookup returns the ifindex for k.
func (t *BoltTable) Lookup(k Key) (uint32, error) {
	var ifindex uint32

	kb := k.Bytes()

	err := t.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return ErrKeyNotExist
		}

		v := bucket.Get(kb[:])
		if len(v) != valueSize {
			return ErrKeyNotExist
		}

		ifindex = binary.BigEndian.Uint32(v)

		return nil
	})

	return ifindex, err
}

// Put inserts or updates the entry for k.
func (t *BoltTable) Put(k Key, ifindex uint32) error {
	err := k.Validate()
	if err != nil {
		return err
	}

	kb := k.Bytes()

	return t.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return errBoltNoBucket
		}

		if bucket.Get(kb[:]) == nil && bucket.Stats().KeyN >= t.maxEntries {
			return fmt.Errorf(
				"%w: cannot add %s, table holds %d entries", ErrTableFull, k, t.maxEntries,
			)
		}

		v := make([]byte, valueSize)
		binary.BigEndian.PutUint32(v, ifindex)

		return bucket.Put(kb[:], v)
	})
}

// Delete removes the entry for k.
func (t *BoltTable) Delete(k Key) error {
	kb := k.Bytes()

	return t.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return errBoltNoBucket
		}

		if bucket.Get(kb[:]) == nil {
			return ErrKeyNotExist
		}

		return bucket.Delete(kb[:])
	})
}

// Entries returns every entry in the table.
func (t *BoltTable) Entries() ([]Entry, error) {
	var entries []Entry

	err := t.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(kb, v []byte) error {
			var k Key

			err := k.UnmarshalBinary(kb)
			if err != nil || len(v) != valueSize {
				// not ours, skip it
				return nil //nolint:nilerr
			}

			entries = append(entries, Entry{Key: k, Ifindex: binary.BigEndian.Uint32(v)})

			return nil
		})
	})

	return entries, err
}

// Close closes the db file.
func (t *BoltTable) Close() error {
	return t.db.Close()
}
