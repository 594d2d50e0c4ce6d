package fdbfwd

import (
	"errors"
	"fmt"
	"iter"

	log "github.com/sirupsen/logrus"
)

// Kind is the kind of a live shared object.
type Kind int

const (
	// KindUnknown is anything the resolver does not know how to use.
	KindUnknown Kind = iota
	// KindMap is a shared table -- the fdb itself.
	KindMap
	// KindProgram is a loaded decision function instance.
	KindProgram
	// KindLink is an attachment of a program to a hook.
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindProgram:
		return "program"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Handle is an open reference to a live shared object. A Handle must be closed by whoever ends up
// holding it; closing a handle never destroys a pinned or otherwise referenced object.
type Handle interface {
	Kind() Kind
	// ID is the object's numeric id, 0 if unknown.
	ID() uint32
	// Name is the name recorded in the object's metadata.
	Name() string
	Close() error
}

// ObjectSource opens live objects. A source reports missing objects (and the end of an id
// enumeration) with errors wrapping ErrNotFound.
type ObjectSource interface {
	// OpenByID opens the object of the given kind with the given id.
	OpenByID(kind Kind, id uint32) (Handle, error)
	// OpenPinned opens whatever object is pinned at path, its Kind may be anything.
	OpenPinned(path string) (Handle, error)
	// NextID returns the id of the next live object of the given kind after start.
	NextID(kind Kind, start uint32) (uint32, error)
}

// Request identifies the object to resolve. At most one of ID, Path and Name is used, in that
// priority order.
type Request struct {
	ID   uint32
	Path string
	Name string
	// Description names the object in errors, for example "fdb map".
	Description string
}

// NewResolver returns a Resolver for objects of src.
func NewResolver(src ObjectSource) *Resolver {
	return &Resolver{src: src}
}

// Resolver finds handles to live shared objects for the control plane. It is not meant for the
// per frame path: resolving by name is linear in the number of live objects.
type Resolver struct {
	src ObjectSource
}

// ResolveTable resolves a handle to a forwarding table, see Resolve.
func (r *Resolver) ResolveTable(id uint32, path, name, description string) (Handle, error) {
	return r.Resolve(KindMap, Request{ID: id, Path: path, Name: name, Description: description})
}

// ResolveProgram resolves a handle to a decision function instance, see Resolve.
func (r *Resolver) ResolveProgram(id uint32, path, description string) (Handle, error) {
	return r.Resolve(KindProgram, Request{ID: id, Path: path, Description: description})
}

// Resolve returns a handle to the object of the given kind identified by req. Only the first of
// req.ID, req.Path and req.Name that is set is tried.
//
// A nil Handle with a nil error is a soft miss: the id or name does not exist, or req does not
// identify anything. Hard failures wrap ErrAccess or ErrWrongObjectType along with
// req.Description and the underlying error, and no handle is left open.
func (r *Resolver) Resolve(kind Kind, req Request) (Handle, error) {
	switch {
	case req.ID != 0:
		return r.resolveByID(kind, req)
	case req.Path != "":
		return r.resolveByPath(kind, req)
	case req.Name != "":
		return r.resolveByName(kind, req)
	default:
		return nil, nil
	}
}

func (r *Resolver) resolveByID(kind Kind, req Request) (Handle, error) {
	h, err := r.src.OpenByID(kind, req.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debugf("no %s with id %d for %s", kind, req.ID, req.Description)

			return nil, nil
		}

		return nil, fmt.Errorf(
			"%w: failed to get handle for %s by id: %w", ErrAccess, req.Description, err,
		)
	}

	return checkKind(h, kind, req.Description, "id")
}

func (r *Resolver) resolveByPath(kind Kind, req Request) (Handle, error) {
	h, err := r.src.OpenPinned(req.Path)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed to get handle for %s by path %q: %w",
			ErrAccess, req.Description, req.Path, err,
		)
	}

	return checkKind(h, kind, req.Description, "path")
}

func checkKind(h Handle, kind Kind, description, by string) (Handle, error) {
	if h.Kind() == kind {
		return h, nil
	}

	got := h.Kind()

	closeErr := h.Close()
	if closeErr != nil {
		log.Printf("ignoring error closing mismatched handle for %s, err: %s", description, closeErr)
	}

	return nil, fmt.Errorf(
		"%w: %s for %s does not refer to a %s, got a %s",
		ErrWrongObjectType, by, description, kind, got,
	)
}

func (r *Resolver) resolveByName(kind Kind, req Request) (Handle, error) {
	for h, err := range r.Objects(kind) {
		if err != nil {
			return nil, fmt.Errorf(
				"%w: failed to get handle for %s by expected name %q: %w",
				ErrAccess, req.Description, req.Name, err,
			)
		}

		// first match wins, duplicate names are allowed and enumeration order is up to the source
		if h.Name() == req.Name {
			return h, nil
		}

		closeErr := h.Close()
		if closeErr != nil {
			log.Printf("ignoring error closing %s %d, err: %s", kind, h.ID(), closeErr)
		}
	}

	log.Debugf("no %s named %q for %s", kind, req.Name, req.Description)

	return nil, nil
}

// Objects returns a lazy sequence of handles to every live object of the given kind, in the
// source's enumeration order. Every range over it starts a new enumeration. The consumer owns,
// and must close, each handle it is given. Objects that disappear between being listed and being
// opened are skipped. A non nil error is always the last value yielded. The walk stops after
// MaxObjectScan objects.
func (r *Resolver) Objects(kind Kind) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		var id uint32

		for range MaxObjectScan {
			next, err := r.src.NextID(kind, id)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					yield(nil, err)
				}

				return
			}

			id = next

			h, err := r.src.OpenByID(kind, id)
			if err != nil {
				log.Debugf("skipping %s %d, err: %s", kind, id, err)

				continue
			}

			if !yield(h, nil) {
				return
			}
		}

		log.Warnf("stopped walking %s objects after %d entries", kind, MaxObjectScan)
	}
}
