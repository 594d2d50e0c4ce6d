package fdbfwd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netns"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// TapRelay copies frames between two tap devices, the second optionally living in another
// network namespace. It stands in for a wire between a host and the forwarding path under test.
type TapRelay struct {
	first     string
	second    string
	namespace string
}

// NewTapRelay returns a TapRelay between the taps first and second. If namespace is not empty the
// second tap is opened inside that named network namespace.
func NewTapRelay(first, second, namespace string) *TapRelay {
	return &TapRelay{
		first:     first,
		second:    second,
		namespace: namespace,
	}
}

// Run opens both taps and copies frames in both directions until ctx is canceled or either
// direction fails.
func (r *TapRelay) Run(ctx context.Context) error {
	a, err := openTap(r.first)
	if err != nil {
		return err
	}

	b, err := openTapInNamespace(r.second, r.namespace)
	if err != nil {
		_ = a.Close()

		return err
	}

	log.Printf("relaying frames between tap %q and tap %q", r.first, r.second)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return copyFrames(b, a)
	})

	g.Go(func() error {
		return copyFrames(a, b)
	})

	go func() {
		<-gCtx.Done()

		// unblocks both reads
		_ = a.Close()
		_ = b.Close()
	}()

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, os.ErrClosed) {
		return nil
	}

	return err
}

func copyFrames(dst, src *os.File) error {
	buf := make([]byte, ReadSize)

	for {
		readN, err := src.Read(buf)
		if err != nil {
			return fmt.Errorf("failed reading from %s: %w", src.Name(), err)
		}

		if readN == 0 {
			continue
		}

		_, err = dst.Write(buf[:readN])
		if err != nil {
			return fmt.Errorf("failed forwarding frame from %s to %s: %w", src.Name(), dst.Name(), err)
		}
	}
}

func openTap(name string) (*os.File, error) {
	// non blocking so the returned file is registered with the runtime poller
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed opening %s, err: %s", ErrBind, tunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("%w: invalid tap name %q, err: %s", ErrBind, name, err)
	}

	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	err = unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("%w: TUNSETIFF on %q failed, err: %s", ErrBind, name, err)
	}

	return os.NewFile(uintptr(fd), name), nil
}

func openTapInNamespace(name, namespace string) (*os.File, error) {
	if namespace == "" {
		return openTap(name)
	}

	// namespaces are per thread, keep this goroutine on its thread until we switch back
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: failed getting current network namespace, err: %s", ErrBind, err)
	}

	defer origin.Close()

	target, err := netns.GetFromName(namespace)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed opening network namespace %q, err: %s", ErrBind, namespace, err,
		)
	}

	defer target.Close()

	err = netns.Set(target)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed switching to network namespace %q, err: %s", ErrBind, namespace, err,
		)
	}

	f, openErr := openTap(name)

	err = netns.Set(origin)
	if err != nil {
		// the thread is stuck in the wrong namespace, do not hand it back to the scheduler
		log.Fatalf("failed switching back to the original network namespace, err: %s", err)
	}

	return f, openErr
}
