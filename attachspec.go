package bpfobj

import (
	"errors"
	"strconv"
)

// AttachSpec describes one kernel hook point. There is one concrete
// variant per hook-kind family, each carrying exactly the parameters
// that kind requires; Program.Attach dispatches exhaustively over the
// variants, so a new hook kind is a compile-time-checked extension
// point rather than an enum code.
type AttachSpec interface {
	// Kind returns the hook-kind family this spec attaches to.
	Kind() AttachType
	// target is the human-readable hook target used in error text.
	target() string
}

// KprobeAttachSpec specifies how to attach a kprobe/kretprobe.
type KprobeAttachSpec struct {
	fnName   string
	offset   uint64
	retprobe bool
}

// NewKprobeAttachSpec creates a KprobeAttachSpec for the kernel
// function fnName.
func NewKprobeAttachSpec(fnName string) (KprobeAttachSpec, error) {
	if fnName == "" {
		return KprobeAttachSpec{}, errors.New("fnName is required")
	}
	return KprobeAttachSpec{fnName: fnName}, nil
}

func (s KprobeAttachSpec) FnName() string { return s.fnName }
func (s KprobeAttachSpec) Offset() uint64 { return s.offset }
func (s KprobeAttachSpec) Retprobe() bool { return s.retprobe }

// Kind returns AttachKretprobe when the retprobe flag is set.
func (s KprobeAttachSpec) Kind() AttachType {
	if s.retprobe {
		return AttachKretprobe
	}
	return AttachKprobe
}

func (s KprobeAttachSpec) target() string { return s.fnName }

// WithOffset returns a new KprobeAttachSpec with the offset set.
func (s KprobeAttachSpec) WithOffset(offset uint64) KprobeAttachSpec {
	s.offset = offset
	return s
}

// WithRetprobe returns a new KprobeAttachSpec that attaches on
// function return instead of entry.
func (s KprobeAttachSpec) WithRetprobe() KprobeAttachSpec {
	s.retprobe = true
	return s
}

// UprobeAttachSpec specifies how to attach a uprobe/uretprobe.
type UprobeAttachSpec struct {
	binary   string
	fnName   string // optional - can use offset only
	offset   uint64
	retprobe bool
}

// NewUprobeAttachSpec creates a UprobeAttachSpec for the executable or
// shared object at binary.
func NewUprobeAttachSpec(binary string) (UprobeAttachSpec, error) {
	if binary == "" {
		return UprobeAttachSpec{}, errors.New("binary is required")
	}
	return UprobeAttachSpec{binary: binary}, nil
}

func (s UprobeAttachSpec) Binary() string { return s.binary }
func (s UprobeAttachSpec) FnName() string { return s.fnName }
func (s UprobeAttachSpec) Offset() uint64 { return s.offset }
func (s UprobeAttachSpec) Retprobe() bool { return s.retprobe }

// Kind returns AttachUretprobe when the retprobe flag is set.
func (s UprobeAttachSpec) Kind() AttachType {
	if s.retprobe {
		return AttachUretprobe
	}
	return AttachUprobe
}

func (s UprobeAttachSpec) target() string { return s.binary + ":" + s.fnName }

// WithFnName returns a new UprobeAttachSpec with the symbol name set.
func (s UprobeAttachSpec) WithFnName(fnName string) UprobeAttachSpec {
	s.fnName = fnName
	return s
}

// WithOffset returns a new UprobeAttachSpec with the offset set.
func (s UprobeAttachSpec) WithOffset(offset uint64) UprobeAttachSpec {
	s.offset = offset
	return s
}

// WithRetprobe returns a new UprobeAttachSpec that attaches on
// function return instead of entry.
func (s UprobeAttachSpec) WithRetprobe() UprobeAttachSpec {
	s.retprobe = true
	return s
}

// TracepointAttachSpec specifies how to attach a tracepoint.
type TracepointAttachSpec struct {
	group string
	name  string
}

// NewTracepointAttachSpec creates a TracepointAttachSpec for the
// tracepoint group:name (e.g. "syscalls", "sys_enter_openat").
func NewTracepointAttachSpec(group, name string) (TracepointAttachSpec, error) {
	if group == "" {
		return TracepointAttachSpec{}, errors.New("group is required")
	}
	if name == "" {
		return TracepointAttachSpec{}, errors.New("name is required")
	}
	return TracepointAttachSpec{group: group, name: name}, nil
}

func (s TracepointAttachSpec) Group() string { return s.group }
func (s TracepointAttachSpec) Name() string  { return s.name }

// Kind returns AttachTracepoint.
func (s TracepointAttachSpec) Kind() AttachType { return AttachTracepoint }

func (s TracepointAttachSpec) target() string { return s.group + ":" + s.name }

// RawTracepointAttachSpec specifies how to attach a raw tracepoint.
type RawTracepointAttachSpec struct {
	name string
}

// NewRawTracepointAttachSpec creates a RawTracepointAttachSpec for the
// named raw tracepoint (e.g. "sched_switch").
func NewRawTracepointAttachSpec(name string) (RawTracepointAttachSpec, error) {
	if name == "" {
		return RawTracepointAttachSpec{}, errors.New("name is required")
	}
	return RawTracepointAttachSpec{name: name}, nil
}

func (s RawTracepointAttachSpec) Name() string { return s.name }

// Kind returns AttachRawTracepoint.
func (s RawTracepointAttachSpec) Kind() AttachType { return AttachRawTracepoint }

func (s RawTracepointAttachSpec) target() string { return s.name }

// TracingAttachSpec specifies how to attach fentry/fexit. The traced
// function comes from the program's declared attach target, not user
// input, so the spec carries only the direction.
type TracingAttachSpec struct {
	exit bool
}

// NewFentryAttachSpec creates a TracingAttachSpec attaching on entry.
func NewFentryAttachSpec() TracingAttachSpec { return TracingAttachSpec{} }

// NewFexitAttachSpec creates a TracingAttachSpec attaching on exit.
func NewFexitAttachSpec() TracingAttachSpec { return TracingAttachSpec{exit: true} }

// Kind returns AttachFexit when attaching on exit.
func (s TracingAttachSpec) Kind() AttachType {
	if s.exit {
		return AttachFexit
	}
	return AttachFentry
}

func (s TracingAttachSpec) target() string { return "" }

// XDPAttachSpec specifies how to attach XDP to a network interface.
type XDPAttachSpec struct {
	ifindex int
	flags   uint32
}

// NewXDPAttachSpec creates an XDPAttachSpec for the interface index.
func NewXDPAttachSpec(ifindex int) (XDPAttachSpec, error) {
	if ifindex <= 0 {
		return XDPAttachSpec{}, errors.New("ifindex must be positive")
	}
	return XDPAttachSpec{ifindex: ifindex}, nil
}

func (s XDPAttachSpec) Ifindex() int  { return s.ifindex }
func (s XDPAttachSpec) Flags() uint32 { return s.flags }

// Kind returns AttachXDP.
func (s XDPAttachSpec) Kind() AttachType { return AttachXDP }

func (s XDPAttachSpec) target() string { return "ifindex " + strconv.Itoa(s.ifindex) }

// WithFlags returns a new XDPAttachSpec with the XDP attach flags set
// (e.g. generic/driver/offload mode bits).
func (s XDPAttachSpec) WithFlags(flags uint32) XDPAttachSpec {
	s.flags = flags
	return s
}

// TCXAttachSpec specifies how to attach TCX to a network interface.
type TCXAttachSpec struct {
	ifindex   int
	direction string
}

// NewTCXAttachSpec creates a TCXAttachSpec for the interface index and
// direction ("ingress" or "egress").
func NewTCXAttachSpec(ifindex int, direction string) (TCXAttachSpec, error) {
	if ifindex <= 0 {
		return TCXAttachSpec{}, errors.New("ifindex must be positive")
	}
	if direction != "ingress" && direction != "egress" {
		return TCXAttachSpec{}, errors.New("direction must be 'ingress' or 'egress'")
	}
	return TCXAttachSpec{ifindex: ifindex, direction: direction}, nil
}

func (s TCXAttachSpec) Ifindex() int      { return s.ifindex }
func (s TCXAttachSpec) Direction() string { return s.direction }

// Kind returns AttachTCX.
func (s TCXAttachSpec) Kind() AttachType { return AttachTCX }

func (s TCXAttachSpec) target() string { return s.direction + " ifindex " + strconv.Itoa(s.ifindex) }

// CgroupHook selects the cgroup hook point for CgroupAttachSpec.
type CgroupHook string

const (
	CgroupInetIngress CgroupHook = "inet_ingress"
	CgroupInetEgress  CgroupHook = "inet_egress"
	CgroupSockCreate  CgroupHook = "sock_create"
	CgroupSockRelease CgroupHook = "sock_release"
)

// CgroupAttachSpec specifies how to attach to a cgroup hook.
type CgroupAttachSpec struct {
	path string
	hook CgroupHook
}

// NewCgroupAttachSpec creates a CgroupAttachSpec for the cgroup v2
// directory at path and the given hook point.
func NewCgroupAttachSpec(path string, hook CgroupHook) (CgroupAttachSpec, error) {
	if path == "" {
		return CgroupAttachSpec{}, errors.New("path is required")
	}
	switch hook {
	case CgroupInetIngress, CgroupInetEgress, CgroupSockCreate, CgroupSockRelease:
	default:
		return CgroupAttachSpec{}, errors.New("unknown cgroup hook")
	}
	return CgroupAttachSpec{path: path, hook: hook}, nil
}

func (s CgroupAttachSpec) Path() string     { return s.path }
func (s CgroupAttachSpec) Hook() CgroupHook { return s.hook }

// Kind returns AttachCgroup.
func (s CgroupAttachSpec) Kind() AttachType { return AttachCgroup }

func (s CgroupAttachSpec) target() string { return s.path }
