package fdbfwd

import (
	"net"
	"testing"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func auxdataControlMessage(status uint32, tci uint16) []byte {
	size := int(unsafe.Sizeof(unix.TpacketAuxdata{}))

	b := make([]byte, unix.CmsgSpace(size))

	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = unix.SOL_PACKET
	h.Type = unix.PACKET_AUXDATA
	h.SetLen(unix.CmsgLen(size))

	aux := (*unix.TpacketAuxdata)(unsafe.Pointer(&b[unix.CmsgLen(0)]))
	aux.Status = status
	aux.Vlan_tci = tci

	return b
}

func testFrame(t *testing.T, dst net.HardwareAddr, vlan uint16) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       dst,
		EthernetType: layers.EthernetTypeIPv4,
	}

	serializable := []gopacket.SerializableLayer{eth}

	if vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q

		serializable = append(serializable, &layers.Dot1Q{
			VLANIdentifier: vlan,
			Type:           layers.EthernetTypeIPv4,
		})
	}

	serializable = append(serializable, gopacket.Payload([]byte{0x45}))

	buf := gopacket.NewSerializeBuffer()

	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, serializable...))

	return buf.Bytes()
}

func TestAuxVLAN(t *testing.T) {
	tci, ok := auxVLAN(auxdataControlMessage(unix.TP_STATUS_VLAN_VALID, 0x2064))
	require.True(t, ok)
	assert.Equal(t, uint16(0x2064), tci)

	_, ok = auxVLAN(auxdataControlMessage(0, 0x2064))
	assert.False(t, ok)

	_, ok = auxVLAN(nil)
	assert.False(t, ok)
}

func TestFrameFromRead(t *testing.T) {
	dst := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	t.Run("auxdata-tag", func(t *testing.T) {
		data := testFrame(t, dst, 0)

		f := frameFromRead(data, auxdataControlMessage(unix.TP_STATUS_VLAN_VALID, 100))

		assert.Equal(t, uint16(100), f.VLAN())
		assert.Len(t, f.Data, len(data))
	})

	t.Run("in-band-tag", func(t *testing.T) {
		data := testFrame(t, dst, 200)
		n := len(data)

		f := frameFromRead(data, auxdataControlMessage(0, 0))

		assert.Equal(t, uint16(200), f.VLAN())
		assert.Len(t, f.Data, n-vlanTagLen)
	})
}

func TestFrameSummary(t *testing.T) {
	dst := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	s := frameSummary(testFrame(t, dst, 0))

	assert.Contains(t, s, "02:00:00:00:00:01 > aa:bb:cc:dd:ee:ff")
	assert.Contains(t, s, "Ethernet")
}

func TestPortHandleFrame(t *testing.T) {
	dst := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	tbl := NewMemoryTable(0)

	k, err := NewKey(10, dst)
	require.NoError(t, err)
	require.NoError(t, tbl.Put(k, 7))

	// no socket: redirects fail to send and are counted as tx errors
	p := &Port{name: "test", fd: -1, fdb: tbl}

	p.handleFrame(Frame{Data: testFrame(t, dst, 0), VLANTCI: 20})
	p.handleFrame(Frame{Data: testFrame(t, dst, 0)})
	p.handleFrame(Frame{Data: dst, VLANTCI: 10})
	p.handleFrame(Frame{Data: testFrame(t, dst, 0), VLANTCI: 10})

	s := p.Stats()

	assert.Equal(t, uint64(4), s.Received.Load())
	assert.Equal(t, uint64(3), s.Passed.Load())
	assert.Equal(t, uint64(1), s.Malformed.Load())
	assert.Equal(t, uint64(1), s.TxErrors.Load())
	assert.Zero(t, s.Redirected.Load())
}
