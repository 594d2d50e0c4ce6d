package fdbfwd

import "time"

const (
	// Version is the version of fdbfwd, set w/ build flags in ci; only useful/relevant for cli.
	Version = "0.0.0"
)

const (
	// EthPAll is the already bit-shifted value of syscall.ETH_P_ALL.
	EthPAll = 768

	// ReadSize is the size of the buffer a port reads frames into.
	ReadSize = 65_536

	// DefaultMaxEntries is the default capacity of a forwarding table, same as the tc program's
	// fdb map definition.
	DefaultMaxEntries = 512

	// DefaultMapName is the name the tc program gives its fdb map.
	DefaultMapName = "tc_fdb_map"

	// MaxObjectScan bounds the number of live objects a by-name resolution walks before giving up.
	MaxObjectScan = 65_536
)

const (
	// VLANIDMask masks the vlan id out of an 802.1Q tag control information field.
	VLANIDMask = 0x0fff

	// MinVLANID is the lowest vlan id that can be used in an fdb key.
	MinVLANID = 1

	// MaxVLANID is the highest vlan id that can be used in an fdb key, 4095 is reserved.
	MaxVLANID = 4094
)

const (
	ethAddrLen    = 6
	ethHeaderLen  = 14
	vlanTagLen    = 4
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88a8

	keySize   = 8
	valueSize = 4
)

const (
	portReadTimeout    = 250 * time.Millisecond
	shutdownCheckDelay = 10 * time.Millisecond
	boltOpenTimeout    = time.Second
)
