package fdbfwd

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// KernelObjects is the ObjectSource for bpf maps and programs living in the kernel. Opening
// objects requires CAP_BPF (or CAP_SYS_ADMIN).
type KernelObjects struct{}

// OpenByID opens the map or program with the given id.
func (KernelObjects) OpenByID(kind Kind, id uint32) (Handle, error) {
	switch kind {
	case KindMap:
		m, err := ebpf.NewMapFromID(ebpf.MapID(id))
		if err != nil {
			return nil, notFoundOr(err, "map id %d", id)
		}

		return newMapHandle(m)
	case KindProgram:
		p, err := ebpf.NewProgramFromID(ebpf.ProgramID(id))
		if err != nil {
			return nil, notFoundOr(err, "program id %d", id)
		}

		return newProgramHandle(p)
	default:
		return nil, fmt.Errorf("%w: cannot open %s objects by id", ErrWrongObjectType, kind)
	}
}

// NextID returns the id of the next live map or program after start.
func (KernelObjects) NextID(kind Kind, start uint32) (uint32, error) {
	switch kind {
	case KindMap:
		id, err := ebpf.MapGetNextID(ebpf.MapID(start))
		if err != nil {
			return 0, notFoundOr(err, "map after id %d", start)
		}

		return uint32(id), nil
	case KindProgram:
		id, err := ebpf.ProgramGetNextID(ebpf.ProgramID(start))
		if err != nil {
			return 0, notFoundOr(err, "program after id %d", start)
		}

		return uint32(id), nil
	default:
		return 0, fmt.Errorf("%w: cannot enumerate %s objects", ErrWrongObjectType, kind)
	}
}

// OpenPinned opens the object pinned at path in a bpf filesystem. The kind of the object is
// determined from its file descriptor the same way bpftool does.
func (KernelObjects) OpenPinned(path string) (Handle, error) {
	fd, err := objGet(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get bpf object (%s): %w", path, err)
	}

	kind, err := fdKind(fd)
	if err != nil {
		_ = unix.Close(fd)

		return nil, err
	}

	switch kind {
	case KindMap:
		// ebpf takes ownership of the fd, closing it on failure
		m, err := ebpf.NewMapFromFD(fd)
		if err != nil {
			return nil, err
		}

		return newMapHandle(m)
	case KindProgram:
		p, err := ebpf.NewProgramFromFD(fd)
		if err != nil {
			return nil, err
		}

		return newProgramHandle(p)
	default:
		return &rawHandle{fd: fd, kind: kind}, nil
	}
}

func notFoundOr(err error, format string, a ...any) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
	}

	return err
}

// bpf(2) attr for BPF_OBJ_GET.
type objGetAttr struct {
	pathname  uint64
	bpfFd     uint32
	fileFlags uint32
}

func objGet(path string) (int, error) {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return -1, err
	}

	attr := objGetAttr{pathname: uint64(uintptr(unsafe.Pointer(p)))}

	fd, _, errno := unix.Syscall(
		unix.SYS_BPF,
		unix.BPF_OBJ_GET,
		uintptr(unsafe.Pointer(&attr)),
		unsafe.Sizeof(attr),
	)

	runtime.KeepAlive(p)

	if errno != 0 {
		return -1, errno
	}

	return int(fd), nil
}

func fdKind(fd int) (Kind, error) {
	target, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	if err != nil {
		return KindUnknown, fmt.Errorf("can't read link type: %w", err)
	}

	return kindFromLink(target), nil
}

func kindFromLink(target string) Kind {
	switch {
	case strings.Contains(target, "bpf-map"):
		return KindMap
	case strings.Contains(target, "bpf-prog"):
		return KindProgram
	case strings.Contains(target, "bpf-link"), strings.Contains(target, "bpf_link"):
		return KindLink
	default:
		return KindUnknown
	}
}

// MapHandle is a Handle to a kernel bpf map.
type MapHandle struct {
	m    *ebpf.Map
	id   uint32
	name string
}

func newMapHandle(m *ebpf.Map) (*MapHandle, error) {
	info, err := m.Info()
	if err != nil {
		_ = m.Close()

		return nil, fmt.Errorf("failed getting map info: %w", err)
	}

	h := &MapHandle{m: m, name: info.Name}

	if id, ok := info.ID(); ok {
		h.id = uint32(id)
	}

	return h, nil
}

// Kind returns KindMap.
func (h *MapHandle) Kind() Kind { return KindMap }

// ID returns the map id.
func (h *MapHandle) ID() uint32 { return h.id }

// Name returns the map name.
func (h *MapHandle) Name() string { return h.name }

// Map returns the underlying map, it is closed along with the handle.
func (h *MapHandle) Map() *ebpf.Map { return h.m }

// Close closes the map.
func (h *MapHandle) Close() error { return h.m.Close() }

// ProgramHandle is a Handle to a loaded kernel bpf program.
type ProgramHandle struct {
	p    *ebpf.Program
	id   uint32
	name string
	typ  ebpf.ProgramType
}

func newProgramHandle(p *ebpf.Program) (*ProgramHandle, error) {
	info, err := p.Info()
	if err != nil {
		_ = p.Close()

		return nil, fmt.Errorf("failed getting program info: %w", err)
	}

	h := &ProgramHandle{p: p, name: info.Name, typ: info.Type}

	if id, ok := info.ID(); ok {
		h.id = uint32(id)
	}

	return h, nil
}

// Kind returns KindProgram.
func (h *ProgramHandle) Kind() Kind { return KindProgram }

// ID returns the program id.
func (h *ProgramHandle) ID() uint32 { return h.id }

// Name returns the program name.
func (h *ProgramHandle) Name() string { return h.name }

// Type returns the program type, for the tc forwarding program this is SchedCLS.
func (h *ProgramHandle) Type() ebpf.ProgramType { return h.typ }

// Program returns the underlying program, it is closed along with the handle.
func (h *ProgramHandle) Program() *ebpf.Program { return h.p }

// Close closes the program.
func (h *ProgramHandle) Close() error { return h.p.Close() }

// rawHandle holds pinned objects we have no richer type for, links mostly.
type rawHandle struct {
	fd   int
	kind Kind
}

func (h *rawHandle) Kind() Kind { return h.kind }

func (h *rawHandle) ID() uint32 { return 0 }

func (h *rawHandle) Name() string { return "" }

func (h *rawHandle) Close() error { return unix.Close(h.fd) }
