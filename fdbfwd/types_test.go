package fdbfwd

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	cases := []struct {
		name    string
		vlan    uint16
		mac     net.HardwareAddr
		wantErr bool
	}{
		{name: "lowest-vlan", vlan: 1, mac: mac},
		{name: "highest-vlan", vlan: 4094, mac: mac},
		{name: "vlan-zero", vlan: 0, mac: mac, wantErr: true},
		{name: "vlan-4095", vlan: 4095, mac: mac, wantErr: true},
		{name: "short-mac", vlan: 10, mac: mac[:5], wantErr: true},
		{
			name:    "eui64",
			vlan:    10,
			mac:     net.HardwareAddr{0, 1, 2, 3, 4, 5, 6, 7},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := NewKey(tc.vlan, tc.mac)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.vlan, k.VLAN)
			assert.Equal(t, tc.mac, k.HardwareAddr())
		})
	}
}

func TestKeyBytesLayout(t *testing.T) {
	k := Key{VLAN: 0x0123, MAC: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}

	b, err := k.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, keySize)

	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, b[:6])
	assert.Equal(t, uint16(0x0123), binary.NativeEndian.Uint16(b[6:]))

	var decoded Key

	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.Equal(t, k, decoded)

	require.ErrorIs(t, decoded.UnmarshalBinary(b[:7]), ErrInvalidKey)
}

func TestKeyPacked(t *testing.T) {
	keys := []Key{
		{VLAN: 1, MAC: [6]byte{}},
		{VLAN: 4094, MAC: [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{VLAN: 10, MAC: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{VLAN: 20, MAC: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
	}

	seen := map[uintptr]bool{}

	for _, k := range keys {
		p := k.packed()

		assert.False(t, seen[p], "packed collision for %s", k)
		seen[p] = true

		assert.Equal(t, k, unpackKey(p))
	}
}

func TestKeyString(t *testing.T) {
	k := Key{VLAN: 10, MAC: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}

	assert.Equal(t, "vlan 10 mac aa:bb:cc:dd:ee:ff", k.String())
	assert.Equal(
		t,
		"vlan 10 mac aa:bb:cc:dd:ee:ff -> ifindex 7",
		Entry{Key: k, Ifindex: 7}.String(),
	)
}

func TestKeyPackedKeepsEveryMACByte(t *testing.T) {
	a := Key{VLAN: 10, MAC: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}

	for i := range ethAddrLen {
		b := a
		b.MAC[i] ^= 0x80

		require.NotEqual(t, a.packed(), b.packed(), "mac byte %d dropped from packed key", i)
		assert.Equal(t, b, unpackKey(b.packed()))
	}

	// differ only in the top three mac bytes
	c := Key{VLAN: 10, MAC: [6]byte{0x02, 0x00, 0x00, 0xdd, 0xee, 0xff}}

	assert.NotEqual(t, a.packed(), c.packed())
}
