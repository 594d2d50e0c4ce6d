package fdbfwd_test

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

const testSrcMAC = "02:00:00:00:00:01"

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()

	mac, err := net.ParseMAC(s)
	require.NoError(t, err)

	return mac
}

// buildFrame serializes an ethernet frame to dst carrying a small ipv4 payload. If tag is true
// the frame carries an in-band 802.1Q tag with the given priority and vlan id.
func buildFrame(t *testing.T, dst string, tag bool, priority uint8, vlan uint16) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, testSrcMAC),
		DstMAC:       mustMAC(t, dst),
		EthernetType: layers.EthernetTypeIPv4,
	}

	serializable := []gopacket.SerializableLayer{eth}

	if tag {
		eth.EthernetType = layers.EthernetTypeDot1Q

		serializable = append(serializable, &layers.Dot1Q{
			Priority:       priority,
			VLANIdentifier: vlan,
			Type:           layers.EthernetTypeIPv4,
		})
	}

	serializable = append(serializable, gopacket.Payload([]byte{0x45, 0x00, 0x00, 0x14}))

	buf := gopacket.NewSerializeBuffer()

	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, serializable...))

	return buf.Bytes()
}
