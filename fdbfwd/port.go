package fdbfwd

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// PortStats are the running counters of a Port.
type PortStats struct {
	Received   atomic.Uint64
	Passed     atomic.Uint64
	Redirected atomic.Uint64
	// Malformed counts frames too short to hold an ethernet header, they are passed as well.
	Malformed atomic.Uint64
	TxErrors  atomic.Uint64
}

func (s *PortStats) String() string {
	return fmt.Sprintf(
		"received %d passed %d redirected %d malformed %d tx errors %d",
		s.Received.Load(),
		s.Passed.Load(),
		s.Redirected.Load(),
		s.Malformed.Load(),
		s.TxErrors.Load(),
	)
}

// NewPort returns a new Port receiving on the interface with the given name (or alias) and
// forwarding according to fdb. Errors the port can not deal with are sent on errChan.
func NewPort(name string, fdb Lookuper, errChan chan error, debug bool) (*Port, error) {
	ifindex, err := interfaceIndex(name)
	if err != nil {
		return nil, err
	}

	return &Port{
		name:    name,
		ifindex: ifindex,
		fdb:     fdb,
		debug:   debug,
		errChan: errChan,
		done:    make(chan struct{}),
	}, nil
}

// Port is the relay worker for one interface: it receives every frame arriving on the interface,
// runs the forwarding decision and sends redirected frames out of the target interface.
type Port struct {
	name    string
	ifindex int
	fd      int

	fdb   Lookuper
	debug bool

	// errChan is the handle to the error channel in the manager process, this is how we propagate
	// errors up to the manager
	errChan chan error

	stats PortStats

	running            atomic.Bool
	shutdownInProgress atomic.Bool
	done               chan struct{}
}

// Name returns the interface name (or alias) the port was created with.
func (p *Port) Name() string {
	return p.name
}

// Stats returns the port's counters.
func (p *Port) Stats() *PortStats {
	return &p.stats
}

// Bind opens the port's packet socket and binds it to the interface.
func (p *Port) Bind() error {
	log.Printf("begin port bind for interface %q (ifindex %d)", p.name, p.ifindex)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, EthPAll)
	if err != nil {
		return fmt.Errorf("%w: failed opening packet socket for %q, err: %s", ErrBind, p.name, err)
	}

	err = p.configureSocket(fd)
	if err != nil {
		closeErr := unix.Close(fd)
		if closeErr != nil {
			log.Printf(
				"encountered error %q binding to interface %q, and subsequent error %q"+
					" attempting to close file descriptor",
				err, p.name, closeErr,
			)
		}

		return fmt.Errorf("%w: failed binding to interface %q, err: %s", ErrBind, p.name, err)
	}

	p.fd = fd

	return nil
}

func (p *Port) configureSocket(fd int) error {
	// the vlan tag is usually stripped by the nic or the kernel, auxdata hands it back to us
	err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_AUXDATA, 1)
	if err != nil {
		return err
	}

	// bounded reads so the read loop can notice shutdown
	tv := unix.NsecToTimeval(portReadTimeout.Nanoseconds())

	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	if err != nil {
		return err
	}

	return unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: EthPAll,
		Ifindex:  p.ifindex,
	})
}

// Run starts the port's read loop in the background.
func (p *Port) Run() {
	log.Printf("begin port run for interface %q", p.name)

	p.running.Store(true)

	go p.runRead()
}

func (p *Port) runRead() {
	defer close(p.done)

	data := make([]byte, ReadSize)
	oob := make([]byte, unix.CmsgSpace(int(unsafe.Sizeof(unix.TpacketAuxdata{}))))

	for {
		if p.shutdownInProgress.Load() {
			return
		}

		readN, oobN, _, from, err := unix.Recvmsg(p.fd, data, oob, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}

			if p.shutdownInProgress.Load() {
				return
			}

			log.Printf(
				"encountered error receiving from interface %q, err: %s", p.name, err,
			)

			p.reportErr(fmt.Errorf("receiving from interface %q: %w", p.name, err))

			return
		}

		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			// our own redirects (and anything else the host sends) show up here too
			continue
		}

		p.handleFrame(frameFromRead(data[:readN], oob[:oobN]))
	}
}

func (p *Port) handleFrame(f Frame) {
	p.stats.Received.Inc()

	if len(f.Data) < ethHeaderLen {
		p.stats.Malformed.Inc()
	}

	d := Decide(p.fdb, &f)
	if d.Action != ActionRedirect {
		p.stats.Passed.Inc()

		return
	}

	if p.debug {
		log.Debugf("port %q frame %s: %s", p.name, frameSummary(f.Data), d)
	}

	err := unix.Sendto(p.fd, f.Data, 0, &unix.SockaddrLinklayer{
		Protocol: EthPAll,
		Ifindex:  int(d.Ifindex),
	})
	if err != nil {
		p.stats.TxErrors.Inc()

		log.Debugf(
			"failed redirecting frame from interface %q to ifindex %d, err: %s",
			p.name, d.Ifindex, err,
		)

		return
	}

	p.stats.Redirected.Inc()
}

func (p *Port) reportErr(err error) {
	select {
	case p.errChan <- err:
	default:
		log.Warnf("error channel full, dropping error from port %q: %s", p.name, err)
	}
}

// Shutdown stops the read loop and closes the port's socket.
func (p *Port) Shutdown(wg *sync.WaitGroup) {
	defer wg.Done()

	log.Printf("begin port shutdown for interface %q", p.name)

	p.shutdownInProgress.Store(true)

	if p.fd == 0 {
		return
	}

	for p.running.Load() {
		select {
		case <-p.done:
		default:
			log.Debugf("read loop for interface %q is not stopped yet", p.name)

			time.Sleep(shutdownCheckDelay)

			continue
		}

		break
	}

	err := unix.Close(p.fd)
	if err != nil {
		log.Printf("failed closing socket for interface %q, err: %s", p.name, err)
	}

	p.fd = 0

	log.Printf("port shutdown complete for interface %q, %s", p.name, &p.stats)
}

// frameFromRead builds the Frame for a received buffer. If the kernel handed the vlan tag over
// as auxdata it is used as is, otherwise a tag still in the frame is popped.
func frameFromRead(data, oob []byte) Frame {
	tci, ok := auxVLAN(oob)
	if ok {
		return Frame{Data: data, VLANTCI: tci}
	}

	return PopVLAN(data)
}

func auxVLAN(oob []byte) (uint16, bool) {
	if len(oob) == 0 {
		return 0, false
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}

	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_PACKET || msg.Header.Type != unix.PACKET_AUXDATA {
			continue
		}

		if len(msg.Data) < int(unsafe.Sizeof(unix.TpacketAuxdata{})) {
			continue
		}

		aux := (*unix.TpacketAuxdata)(unsafe.Pointer(&msg.Data[0]))

		if aux.Status&unix.TP_STATUS_VLAN_VALID == 0 {
			return 0, false
		}

		return aux.Vlan_tci, true
	}

	return 0, false
}

// frameSummary is a short human readable description of an ethernet frame, for debug logs.
func frameSummary(data []byte) string {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return fmt.Sprintf("undecodable frame of %d bytes", len(data))
	}

	layerNames := make([]string, 0, len(pkt.Layers()))

	for _, l := range pkt.Layers() {
		layerNames = append(layerNames, l.LayerType().String())
	}

	return fmt.Sprintf(
		"%s > %s %s len %d", eth.SrcMAC, eth.DstMAC, strings.Join(layerNames, "/"), len(data),
	)
}
