package fdbfwd

import (
	"encoding/binary"
)

// Frame is an ethernet frame as handed over by the ingress path: the frame bytes with the 802.1Q
// tag already removed, and the tag control information carried alongside.
type Frame struct {
	// Data is the frame starting at the destination mac.
	Data []byte
	// VLANTCI is the out of band 802.1Q tag control information, 0 if the frame is untagged.
	VLANTCI uint16
}

// VLAN returns the frame's vlan id, 0 for untagged frames.
func (f *Frame) VLAN() uint16 {
	return f.VLANTCI & VLANIDMask
}

// StripVLAN drops the frame's vlan tag so it is delivered untagged.
func (f *Frame) StripVLAN() {
	f.VLANTCI = 0
}

type ethHeader struct {
	dst   [ethAddrLen]byte
	src   [ethAddrLen]byte
	proto uint16
}

// parseEthHeader is the only place frame bytes are read. The length is checked once up front and
// every field is read from a slice capped at the header length.
func parseEthHeader(data []byte) (ethHeader, bool) {
	if len(data) < ethHeaderLen {
		return ethHeader{}, false
	}

	b := data[:ethHeaderLen:ethHeaderLen]

	var h ethHeader

	copy(h.dst[:], b[0:6])
	copy(h.src[:], b[6:12])
	h.proto = binary.BigEndian.Uint16(b[12:14])

	return h, true
}

// PopVLAN returns data as a Frame with the outermost in-band 802.1Q (or 802.1ad) tag moved out of
// band. The mac addresses are shifted over the tag in place, so data is modified and the returned
// Frame aliases it. Frames without an in-band tag, or too short to hold one, are returned as-is
// and untagged.
func PopVLAN(data []byte) Frame {
	h, ok := parseEthHeader(data)
	if !ok {
		return Frame{Data: data}
	}

	if h.proto != etherTypeVLAN && h.proto != etherTypeQinQ {
		return Frame{Data: data}
	}

	if len(data) < ethHeaderLen+vlanTagLen {
		return Frame{Data: data}
	}

	tci := binary.BigEndian.Uint16(data[ethHeaderLen : ethHeaderLen+2])

	copy(data[vlanTagLen:vlanTagLen+2*ethAddrLen], data[:2*ethAddrLen])

	return Frame{
		Data:    data[vlanTagLen:],
		VLANTCI: tci,
	}
}
