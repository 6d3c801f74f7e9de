package bpfobj

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// This file is the only place raw native handles and error codes are
// touched. Everything above works against the narrow interfaces below,
// and every native failure is translated into the typed taxonomy
// before it crosses into core logic.

// mapOps is the subset of the native map handle the accessor needs.
// *ebpf.Map satisfies it directly.
type mapOps interface {
	LookupBytes(key any) ([]byte, error)
	Update(key, value any, flags ebpf.MapUpdateFlags) error
	Delete(key any) error
	NextKeyBytes(key any) ([]byte, error)
	Pin(path string) error
	Unpin() error
	Close() error
	Info() (*ebpf.MapInfo, error)
}

var _ mapOps = (*ebpf.Map)(nil)

// programOps is the subset of the native program handle the manager
// needs. *ebpf.Program satisfies it directly.
type programOps interface {
	Pin(path string) error
	Unpin() error
	Close() error
	Info() (*ebpf.ProgramInfo, error)
}

var _ programOps = (*ebpf.Program)(nil)

// rawLink is the subset of the native link handle the Link wrapper
// needs. Native links satisfy it directly.
type rawLink interface {
	Pin(path string) error
	Unpin() error
	Close() error
}

// loadedHandles carries the native sub-handles materialized by a load,
// keyed by section name.
type loadedHandles struct {
	maps     map[string]mapOps
	programs map[string]programOps
}

// loadFunc turns a parsed collection spec into native handles. The
// default implementation calls into the native loader; tests swap in a
// fake so the lifecycle can be exercised without a kernel.
type loadFunc func(spec *ebpf.CollectionSpec, opts ebpf.CollectionOptions) (loadedHandles, error)

func loadCollection(spec *ebpf.CollectionSpec, opts ebpf.CollectionOptions) (loadedHandles, error) {
	coll, err := ebpf.NewCollectionWithOptions(spec, opts)
	if err != nil {
		return loadedHandles{}, err
	}

	// Ownership of every sub-handle moves to the caller; the
	// collection itself is just the container, so it must not be
	// closed here.
	lh := loadedHandles{
		maps:     make(map[string]mapOps, len(coll.Maps)),
		programs: make(map[string]programOps, len(coll.Programs)),
	}
	for name, m := range coll.Maps {
		lh.maps[name] = m
	}
	for name, p := range coll.Programs {
		lh.programs[name] = p
	}
	return lh, nil
}

// attachFunc attaches a native program to the hook a spec describes.
// Tests swap in a fake returning a fake rawLink.
type attachFunc func(prog *ebpf.Program, spec AttachSpec) (rawLink, error)

// attachNative dispatches exhaustively over the AttachSpec variants.
func attachNative(prog *ebpf.Program, spec AttachSpec) (rawLink, error) {
	switch s := spec.(type) {
	case KprobeAttachSpec:
		opts := &link.KprobeOptions{Offset: s.Offset()}
		if s.Retprobe() {
			return link.Kretprobe(s.FnName(), prog, opts)
		}
		return link.Kprobe(s.FnName(), prog, opts)

	case UprobeAttachSpec:
		ex, err := link.OpenExecutable(s.Binary())
		if err != nil {
			return nil, fmt.Errorf("open executable %s: %w", s.Binary(), err)
		}
		opts := &link.UprobeOptions{Offset: s.Offset()}
		if s.FnName() == "" {
			// No symbol: the offset is an absolute address.
			opts = &link.UprobeOptions{Address: s.Offset()}
		}
		if s.Retprobe() {
			return ex.Uretprobe(s.FnName(), prog, opts)
		}
		return ex.Uprobe(s.FnName(), prog, opts)

	case TracepointAttachSpec:
		return link.Tracepoint(s.Group(), s.Name(), prog, nil)

	case RawTracepointAttachSpec:
		return link.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    s.Name(),
			Program: prog,
		})

	case TracingAttachSpec:
		// The traced function and attach type come from the
		// program's declared attach target at load time.
		return link.AttachTracing(link.TracingOptions{
			Program: prog,
		})

	case XDPAttachSpec:
		return link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: s.Ifindex(),
			Flags:     link.XDPAttachFlags(s.Flags()),
		})

	case TCXAttachSpec:
		attach := ebpf.AttachTCXIngress
		if s.Direction() == "egress" {
			attach = ebpf.AttachTCXEgress
		}
		return link.AttachTCX(link.TCXOptions{
			Program:   prog,
			Attach:    attach,
			Interface: s.Ifindex(),
		})

	case CgroupAttachSpec:
		return link.AttachCgroup(link.CgroupOptions{
			Path:    s.Path(),
			Attach:  cgroupAttachType(s.Hook()),
			Program: prog,
		})

	default:
		return nil, fmt.Errorf("unsupported attach spec %T", spec)
	}
}

func cgroupAttachType(hook CgroupHook) ebpf.AttachType {
	switch hook {
	case CgroupInetEgress:
		return ebpf.AttachCGroupInetEgress
	case CgroupSockCreate:
		return ebpf.AttachCGroupInetSockCreate
	case CgroupSockRelease:
		return ebpf.AttachCgroupInetSockRelease
	default:
		return ebpf.AttachCGroupInetIngress
	}
}

// translateLoadError converts a native load failure into the typed
// taxonomy. Verifier rejections keep the full diagnostic text.
func translateLoadError(object string, err error) error {
	var verr *ebpf.VerifierError
	if errors.As(err, &verr) {
		return &VerificationError{Object: object, Log: verr.Error(), Err: err}
	}
	return &LoadError{Object: object, Err: err}
}

// translateKeyError converts native key-presence errors on map
// operations; other errors pass through wrapped by the caller.
func translateKeyError(mapName string, key []byte, err error) (error, bool) {
	switch {
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return &NotFoundError{Resource: "key", Name: fmt.Sprintf("%x", key)}, true
	case errors.Is(err, ebpf.ErrKeyExist):
		return &AlreadyExistsError{Resource: "key", Name: fmt.Sprintf("%x", key)}, true
	default:
		return err, false
	}
}

// possibleCPU reports the number of possible CPUs, which is the
// per-CPU fan-out width the kernel uses. Overridden in tests.
var possibleCPU = ebpf.PossibleCPU
