package fdbfwd

import "fmt"

// Action is what the ingress path should do with a frame.
type Action uint8

const (
	// ActionPass lets the frame continue through the normal network stack.
	ActionPass Action = iota
	// ActionRedirect delivers the frame, untagged, on the egress path of another interface. The
	// frame is never re-injected as ingress traffic on the target.
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Decision is the outcome of Decide for a single frame. Ifindex is only meaningful for
// ActionRedirect.
type Decision struct {
	Action  Action
	Ifindex uint32
}

// Pass returns a pass decision.
func Pass() Decision {
	return Decision{Action: ActionPass}
}

// Redirect returns an ingress to egress redirect decision toward ifindex.
func Redirect(ifindex uint32) Decision {
	return Decision{Action: ActionRedirect, Ifindex: ifindex}
}

func (d Decision) String() string {
	if d.Action == ActionRedirect {
		return fmt.Sprintf("redirect(%d)", d.Ifindex)
	}

	return d.Action.String()
}

// Lookuper is the read only view of a forwarding table the decision function depends on.
type Lookuper interface {
	// Lookup returns the output ifindex for k. A missing key is reported with ErrKeyNotExist.
	Lookup(k Key) (uint32, error)
}

// Decide runs the forwarding decision for a single frame. Short frames, untagged frames, misses,
// entries pointing at ifindex 0 and any lookup failure all pass. A hit strips the vlan tag from f
// and redirects. Decide does not allocate (beyond what fdb.Lookup does) and never blocks.
func Decide(fdb Lookuper, f *Frame) Decision {
	h, ok := parseEthHeader(f.Data)
	if !ok {
		return Pass()
	}

	vlan := f.VLAN()
	if vlan == 0 {
		return Pass()
	}

	ifindex, err := fdb.Lookup(Key{VLAN: vlan, MAC: h.dst})
	if err != nil || ifindex == 0 {
		return Pass()
	}

	// the target does not expect vlan tags
	f.StripVLAN()

	return Redirect(ifindex)
}
