package fdbfwd

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Key is a forwarding database key -- a vlan id and a destination mac address. Keys are compared
// by exact equality, there is no masking of any kind.
type Key struct {
	// VLAN is the 12 bit vlan id, 0 is reserved and never matched.
	VLAN uint16
	// MAC is the destination hardware address.
	MAC [ethAddrLen]byte
}

// NewKey returns a Key for vlan and the given hardware address. It fails if the address is not
// a 6 byte ethernet address or the vlan is not a usable id.
func NewKey(vlan uint16, mac net.HardwareAddr) (Key, error) {
	if len(mac) != ethAddrLen {
		return Key{}, fmt.Errorf("%w: %q is not an ethernet address", ErrInvalidKey, mac)
	}

	k := Key{VLAN: vlan}

	copy(k.MAC[:], mac)

	return k, k.Validate()
}

// Validate returns an error if the key could never be matched by the decision function.
func (k Key) Validate() error {
	if k.VLAN < MinVLANID || k.VLAN > MaxVLANID {
		return fmt.Errorf(
			"%w: vlan id %d out of range %d-%d", ErrInvalidKey, k.VLAN, MinVLANID, MaxVLANID,
		)
	}

	return nil
}

// HardwareAddr returns the key's mac as a net.HardwareAddr.
func (k Key) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(k.MAC[:])
}

func (k Key) String() string {
	return fmt.Sprintf("vlan %d mac %s", k.VLAN, k.HardwareAddr())
}

// Bytes returns the shared table encoding of the key: the 6 mac bytes followed by the vlan id in
// host byte order -- the layout of the kernel fdb map key.
func (k Key) Bytes() [keySize]byte {
	var b [keySize]byte

	copy(b[:ethAddrLen], k.MAC[:])
	binary.NativeEndian.PutUint16(b[ethAddrLen:], k.VLAN)

	return b
}

// MarshalBinary encodes the key in the shared table layout, see Bytes.
func (k Key) MarshalBinary() ([]byte, error) {
	b := k.Bytes()

	return b[:], nil
}

// UnmarshalBinary decodes a key in the shared table layout.
func (k *Key) UnmarshalBinary(b []byte) error {
	if len(b) != keySize {
		return fmt.Errorf("%w: key must be exactly %d bytes, got %d", ErrInvalidKey, keySize, len(b))
	}

	copy(k.MAC[:], b[:ethAddrLen])
	k.VLAN = binary.NativeEndian.Uint16(b[ethAddrLen:])

	return nil
}

// packedKeyBits is the width of a packed key. The build fails on platforms whose uintptr can not
// hold it, distinct keys must never share a word.
const packedKeyBits = 8*ethAddrLen + 12

const _ uint = strconv.IntSize - packedKeyBits

// packed folds the key into a single word for the in memory table: 48 bits of mac, 12 bits of
// vlan.
func (k Key) packed() uintptr {
	var v uint64

	for _, b := range k.MAC {
		v = v<<8 | uint64(b)
	}

	return uintptr(v<<12 | uint64(k.VLAN&VLANIDMask))
}

func unpackKey(v uintptr) Key {
	u := uint64(v)

	k := Key{VLAN: uint16(u & VLANIDMask)}

	u >>= 12

	for i := ethAddrLen - 1; i >= 0; i-- {
		k.MAC[i] = byte(u)
		u >>= 8
	}

	return k
}

// Entry is a single forwarding database entry.
type Entry struct {
	Key Key
	// Ifindex is the output interface index, 0 means "no redirect target".
	Ifindex uint32
}

func (e Entry) String() string {
	return fmt.Sprintf("%s -> ifindex %d", e.Key, e.Ifindex)
}
